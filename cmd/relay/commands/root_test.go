package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-relay/internal/auth"
	"github.com/spec-kit/ticket-relay/internal/domain"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "sweep", "token"} {
		assert.True(t, names[want], want)
	}
}

func TestTokenCommandIssuesParsableToken(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("AUTH_ACCESS_TOKEN_TTL_MINUTES", "5")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"token", "200000000000000002", "--role", "team_lead", "--name", "Sam"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		tokenRole = string(domain.StaffRoleAgent)
		tokenName = ""
	})
	require.NoError(t, rootCmd.Execute())

	claims, err := auth.NewTokenManager("cli-secret", 5).ParseToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "200000000000000002", claims.Subject)
	assert.Equal(t, domain.StaffRoleTeamLead, claims.Role)
	assert.Equal(t, "Sam", claims.Name)
	assert.Contains(t, errOut.String(), "expires")
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	rootCmd.SetArgs([]string{"token", "1", "--role", "janitor"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		tokenRole = string(domain.StaffRoleAgent)
	})
	assert.Error(t, rootCmd.Execute())
}

func TestMigrateAcceptsTargetVersion(t *testing.T) {
	flag := migrateCmd.Flags().Lookup("to")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}
