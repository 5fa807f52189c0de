package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-relay/internal/auth"
	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/domain"
)

var (
	tokenName string
	tokenRole string
)

var tokenCmd = &cobra.Command{
	Use:   "token <staff-id>",
	Short: "Issue a staff API bearer token",
	Long: `Issue a bearer token for the staff HTTP API, signed with AUTH_JWT_SECRET.

Examples:
  relay token 200000000000000002 --role TEAM_LEAD --name Sam`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name stored in the token")
	tokenCmd.Flags().StringVarP(&tokenRole, "role", "r", string(domain.StaffRoleAgent), "Staff role (AGENT, TEAM_LEAD or ADMIN)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	role := domain.StaffRole(strings.ToUpper(strings.TrimSpace(tokenRole)))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	token, expires, err := tokens.GenerateToken(args[0], tokenName, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
