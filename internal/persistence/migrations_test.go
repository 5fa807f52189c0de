package persistence

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/config"
)

func TestLoadMigrationsOrdered(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, m.Name)
		assert.NotEmpty(t, strings.TrimSpace(m.SQL))
	}
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS tickets")
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("0012_add_things.sql")
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	_, err = migrationVersion("nounderscore.sql")
	assert.Error(t, err)

	_, err = migrationVersion("abc_thing.sql")
	assert.Error(t, err)
}

func TestRunMigrationsWithoutPool(t *testing.T) {
	assert.NoError(t, RunMigrations(context.Background(), nil, zap.NewNop()))
	assert.NoError(t, MigrateTo(context.Background(), nil, zap.NewNop(), 2))
}

func TestPostgresWithoutDSN(t *testing.T) {
	pg, err := NewPostgres(context.Background(), configWithoutDSN(), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pg.PoolHandle())
	assert.Error(t, pg.Ping(context.Background()))
	pg.Close()
}

func configWithoutDSN() config.PostgresConfig {
	return config.PostgresConfig{}
}
