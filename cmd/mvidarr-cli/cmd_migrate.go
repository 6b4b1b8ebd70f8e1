package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/mvidarr-go/internal/config"
	"github.com/vrsandeep/mvidarr-go/internal/db"
	"github.com/vrsandeep/mvidarr-go/migrations"
)

// newMigrateCmd creates the migrate subcommand
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			database, err := db.InitDB(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.Close()

			if err := db.RunMigrations(database, migrations.FS); err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s migrations applied to %s\n", okFormat("✓"), cfg.Database.Path)
			return nil
		},
	}
}
