package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

const StaleOperationsJobID = "stale-operations"

// RegisterAll adds every maintenance job to the manager.
func RegisterAll(jm *JobManager) {
	jm.Register(StaleOperationsJobID, "Stale Operation Check", RunStaleOperationsCheck)
}

// StartJobs starts the background job scheduler. The caller stops it.
func StartJobs(app JobContext, jm *JobManager) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.WaitForScheduleAll()

	startStaleOperationsJob(s, app, jm)

	logger.Info("starting background job scheduler")
	s.StartAsync()
	return s
}

func startStaleOperationsJob(s *gocron.Scheduler, app JobContext, jm *JobManager) {
	interval := app.Settings().Jobs.StaleCheckInterval
	if interval == 0 {
		logger.Info("stale operation check interval is 0, scheduled check is disabled")
		return
	}

	logger.Info("scheduling job", "job", StaleOperationsJobID, "every_minutes", interval)
	_, err := s.Every(interval).Minutes().Do(func() {
		// Go through the manager so a manual run and a scheduled one never overlap.
		if err := jm.RunJob(StaleOperationsJobID, app); err != nil {
			logger.Warn("scheduled job could not start", "job", StaleOperationsJobID, "error", err)
		}
	})
	if err != nil {
		logger.Error("error scheduling job", "job", StaleOperationsJobID, "error", err)
	}
}

// RunStaleOperationsCheck reports RUNNING operations that started long ago
// and that no worker in this process is executing, which is what a crash
// mid-run leaves behind. It never changes their status.
func RunStaleOperationsCheck(app JobContext) (string, error) {
	staleAfter := time.Duration(app.Settings().Jobs.StaleAfter) * time.Minute
	stale, err := FindStaleOperations(context.Background(), app.OperationStore(), app.IsOperationActive, staleAfter, time.Now().UTC())
	if err != nil {
		return "", err
	}
	for _, op := range stale {
		logger.Warn("operation looks stalled",
			"operation_id", op.ID, "type", op.Type, "user_id", op.UserID,
			"started_at", op.StartedAt, "processed", op.ProcessedItems, "total", op.TotalItems)
	}
	if len(stale) == 0 {
		return "No stale operations found.", nil
	}
	return fmt.Sprintf("Found %d stale operation(s).", len(stale)), nil
}

// FindStaleOperations lists RUNNING operations started more than olderThan
// before now for which isActive reports false. A nil isActive treats every
// operation as inactive.
func FindStaleOperations(ctx context.Context, st *store.Store, isActive func(string) bool, olderThan time.Duration, now time.Time) ([]*models.Operation, error) {
	ops, err := st.ListStaleRunning(ctx, now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("listing running operations: %w", err)
	}
	stale := make([]*models.Operation, 0, len(ops))
	for _, op := range ops {
		if isActive != nil && isActive(op.ID) {
			continue
		}
		stale = append(stale, op)
	}
	return stale, nil
}
