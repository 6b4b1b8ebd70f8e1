package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/mvidarr-go/internal/core"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	dbPath    string
	userID    int64
	outFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mvidarr-cli",
		Short: "Inspect and manage mvidarr bulk operations",
		Long: `mvidarr-cli works directly on the configured database. It reads
config.yml from the current directory, and MVIDARR_* environment variables
override it.

  mvidarr-cli migrate                      Apply database migrations
  mvidarr-cli operations list              List a user's operations
  mvidarr-cli operations show <id>         Show one operation with its errors
  mvidarr-cli operations cancel <id>       Request cancellation
  mvidarr-cli operations undo <id>         Revert a completed operation
  mvidarr-cli stale                        Report operations stuck in RUNNING`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dbPath != "" {
				return os.Setenv("MVIDARR_DATABASE_PATH", dbPath)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default from config)")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 1, "user id that owns the operations")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newOperationsCmd(),
		newStaleCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

// openApp sets up the application the same way the server does.
func openApp() (*core.App, error) {
	app, err := core.New()
	if err != nil {
		return nil, err
	}
	app.Version = version
	return app, nil
}
