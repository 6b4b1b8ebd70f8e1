package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/core"
	"github.com/vrsandeep/mvidarr-go/internal/models"
)

// newOperationsCmd creates the operations command group
func newOperationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List, inspect, cancel and undo bulk operations",
	}
	cmd.PersistentFlags().StringVarP(&outFormat, "output", "o", "text", "output format: text, yaml or json")
	cmd.AddCommand(
		newOperationsListCmd(),
		newOperationsShowCmd(),
		newOperationsCancelCmd(),
		newOperationsUndoCmd(),
	)
	return cmd
}

func newOperationsListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *core.App) error {
				ops, err := app.Engine.ListForUser(ctx, userID, models.OperationStatus(status), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				return writeOutput(out, outFormat, ops, func() { printOperationTable(out, ops) })
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show operations in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of operations")
	return cmd
}

func newOperationsShowCmd() *cobra.Command {
	var errorLimit int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an operation's status, counters and recent errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *core.App) error {
				if _, err := app.Engine.Lookup(ctx, args[0], userID); err != nil {
					return err
				}
				view, err := app.Engine.GetStatus(ctx, args[0], errorLimit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				return writeOutput(out, outFormat, view, func() { printOperationView(out, view) })
			})
		},
	}
	cmd.Flags().IntVar(&errorLimit, "errors", 0, "number of errors to show (default from config)")
	return cmd
}

func newOperationsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cancellation of an operation",
		Long: `Request cancellation of an operation. A PENDING operation is cancelled at
once. A RUNNING operation held by a server stops at its next chunk boundary;
changes already committed are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *core.App) error {
				result, err := app.Engine.Cancel(ctx, args[0], userID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch result {
				case bulk.CancelOK:
					fmt.Fprintf(out, "%s cancellation requested for %s\n", okFormat("✓"), args[0])
				case bulk.CancelAlreadyTerminal:
					fmt.Fprintf(out, "%s %s has already finished\n", warningFormat("!"), args[0])
				case bulk.CancelNotFound:
					return fmt.Errorf("%w: %s", bulk.ErrNotFound, args[0])
				default:
					fmt.Fprintf(out, "%s %s: %s\n", mutedFormat("-"), args[0], result)
				}
				return nil
			})
		},
	}
}

func newOperationsUndoCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "undo <id>",
		Short: "Revert a completed operation from its captured snapshots",
		Long: `Create and run the inverse of a completed operation. The inverse runs in
this process, so the command waits for it to finish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *core.App) error {
				undoID, err := app.Engine.Undo(ctx, args[0], userID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "undo operation %s started\n", undoID)

				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				view, err := waitForOperation(waitCtx, app.Engine, undoID)
				if err != nil {
					return err
				}
				return writeOutput(out, outFormat, view, func() { printOperationView(out, view) })
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Minute, "how long to wait for the undo to finish")
	return cmd
}

func waitForOperation(ctx context.Context, eng *bulk.Engine, id string) (*models.OperationView, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		view, err := eng.GetStatus(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		if view.Status.IsTerminal() && !eng.IsActive(id) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// withApp opens the application, runs fn until it returns or the process is
// interrupted, then shuts the engine down.
func withApp(fn func(ctx context.Context, app *core.App) error) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, app)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
