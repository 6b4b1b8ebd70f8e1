package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/mvidarr-go/internal/core"
	"github.com/vrsandeep/mvidarr-go/internal/jobs"
)

// newStaleCmd creates the stale subcommand
func newStaleCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Report RUNNING operations that look abandoned",
		Long: `Report operations that have been RUNNING longer than --older-than. This
process runs no workers, so any running operation a server is still executing
shows up too; check its progress timestamp before cancelling it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *core.App) error {
				if olderThan <= 0 {
					olderThan = time.Duration(app.Config.Jobs.StaleAfter) * time.Minute
				}
				stale, err := jobs.FindStaleOperations(ctx, app.Store, app.IsOperationActive, olderThan, time.Now().UTC())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(stale) == 0 {
					fmt.Fprintf(out, "%s no stale operations\n", okFormat("✓"))
					return nil
				}
				for _, op := range stale {
					last := "never"
					if op.Progress.UpdatedAt != nil {
						last = humanize.Time(*op.Progress.UpdatedAt)
					}
					fmt.Fprintf(out, "%s %s %s started %s, %s/%s processed, last progress %s\n",
						warningFormat("!"), op.ID, op.Type, humanize.Time(*op.StartedAt),
						humanize.Comma(int64(op.ProcessedItems)), humanize.Comma(int64(op.TotalItems)), last)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (default from jobs.stale_after)")
	return cmd
}
