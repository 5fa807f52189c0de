package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TICKETS_ALLOW_MULTIPLE_OPEN", "")
	t.Setenv("AUTOMATION_SLA_MINUTES", "")
	t.Setenv("AUTOMATION_AUTO_CLOSE_HOURS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Tickets.AllowMultipleOpen)
	assert.True(t, cfg.Tickets.RatingEnabled)
	assert.Equal(t, "!note", cfg.Tickets.NotePrefix)
	assert.Equal(t, time.Duration(0), cfg.Automation.SLAThreshold())
	assert.Equal(t, time.Duration(0), cfg.Automation.AutoCloseThreshold())
	assert.Equal(t, 8<<20, cfg.Transcript.MaxAttachmentBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOMATION_SLA_MINUTES", "30")
	t.Setenv("AUTOMATION_AUTO_CLOSE_HOURS", "48")
	t.Setenv("AUTOMATION_INTERVAL_SECONDS", "15")
	t.Setenv("DISCORD_STAFF_ROLE_IDS", " 111, 222 ,,")
	t.Setenv("TICKETS_ALLOW_MULTIPLE_OPEN", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Automation.SLAThreshold())
	assert.Equal(t, 48*time.Hour, cfg.Automation.AutoCloseThreshold())
	assert.Equal(t, 15*time.Second, cfg.Automation.Interval())
	assert.Equal(t, []string{"111", "222"}, cfg.Discord.StaffRoleIDs)
	assert.True(t, cfg.Tickets.AllowMultipleOpen)
}

func TestAutomationThresholdsAreIndependent(t *testing.T) {
	t.Setenv("AUTOMATION_SLA_MINUTES", "45")
	t.Setenv("AUTOMATION_AUTO_CLOSE_HOURS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Automation.SLAThreshold())
	assert.Zero(t, cfg.Automation.AutoCloseThreshold())

	t.Setenv("AUTOMATION_SLA_MINUTES", "-5")
	t.Setenv("AUTOMATION_AUTO_CLOSE_HOURS", "12")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Automation.SLAThreshold())
	assert.Equal(t, 12*time.Hour, cfg.Automation.AutoCloseThreshold())
}

func TestLoggerDevelopmentFollowsAppEnv(t *testing.T) {
	t.Setenv("LOG_DEVELOPMENT", "")

	t.Setenv("APP_ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Logger.Development)

	t.Setenv("APP_ENV", "development")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.Logger.Development)

	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_DEVELOPMENT", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.Logger.Development)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "nope")
	_, err := Load()
	assert.Error(t, err)
}

func TestCategories(t *testing.T) {
	t.Run("empty path allows anything", func(t *testing.T) {
		catalog, err := LoadCategories("")
		require.NoError(t, err)
		assert.True(t, catalog.Allows("whatever"))
	})

	t.Run("file catalog restricts keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "categories.yaml")
		doc := "categories:\n  - key: Billing\n    label: Billing\n  - key: appeal\n    label: Ban appeal\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		catalog, err := LoadCategories(path)
		require.NoError(t, err)
		assert.True(t, catalog.Allows("billing"))
		assert.True(t, catalog.Allows(" APPEAL "))
		assert.False(t, catalog.Allows("other"))

		cat, ok := catalog.Lookup("appeal")
		require.True(t, ok)
		assert.Equal(t, "Ban appeal", cat.Label)
	})

	t.Run("duplicate keys rejected", func(t *testing.T) {
		_, err := ParseCategories([]byte("categories:\n  - key: a\n  - key: A\n"))
		assert.Error(t, err)
	})

	t.Run("missing key rejected", func(t *testing.T) {
		_, err := ParseCategories([]byte("categories:\n  - label: nothing\n"))
		assert.Error(t, err)
	})
}
