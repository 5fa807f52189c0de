package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-relay/internal/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

var migrateTarget int

func init() {
	migrateCmd.Flags().IntVar(&migrateTarget, "to", 0, "stop after this migration version (0 applies all)")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN required for migrate")
	}
	ctx := context.Background()
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	return persistence.MigrateTo(ctx, pg.PoolHandle(), logger, migrateTarget)
}
