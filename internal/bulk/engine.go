package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrsandeep/mvidarr-go/internal/config"
	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// DefaultErrorPreviewLimit is how many errors a status view carries.
const DefaultErrorPreviewLimit = 20

// Options tunes an Engine.
type Options struct {
	ChunkSize             int
	MaxConcurrent         int
	ItemsPerSecond        float64
	ErrorPreviewLimit     int
	PreviewSecondsPerItem float64
	OnChunkCommitted      ChunkHook
	Now                   func() time.Time
}

// OptionsFromConfig maps the bulk section of the configuration.
func OptionsFromConfig(cfg config.BulkConfig) Options {
	return Options{
		ChunkSize:             cfg.ChunkSize,
		MaxConcurrent:         cfg.MaxConcurrentOperations,
		ItemsPerSecond:        cfg.ItemsPerSecond,
		ErrorPreviewLimit:     cfg.ErrorPreviewLimit,
		PreviewSecondsPerItem: cfg.PreviewSecondsPerItem,
	}
}

// CreateRequest describes a new operation.
type CreateRequest struct {
	UserID      int64
	Type        models.OperationType
	Name        string
	Description string
	TargetIDs   []int64
	Params      json.RawMessage
	IsUndoable  bool
	IsPreview   bool
}

// Engine is the entry point for everything that creates, runs, inspects or
// reverts bulk operations.
type Engine struct {
	store     Store
	registry  *Registry
	executor  *Executor
	scheduler *Scheduler

	errorLimit int
	now        func() time.Time

	// undoMu serializes undo so two requests can't both pass the
	// not-yet-undone check.
	undoMu sync.Mutex
}

// NewEngine starts the scheduler's worker pool.
func NewEngine(st Store, registry *Registry, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	exec := NewExecutor(st, registry, ExecutorConfig{
		ChunkSize:             opts.ChunkSize,
		ItemsPerSecond:        opts.ItemsPerSecond,
		PreviewSecondsPerItem: opts.PreviewSecondsPerItem,
		OnChunkCommitted:      opts.OnChunkCommitted,
		Now:                   now,
	})
	limit := opts.ErrorPreviewLimit
	if limit <= 0 {
		limit = DefaultErrorPreviewLimit
	}
	return &Engine{
		store:      st,
		registry:   registry,
		executor:   exec,
		scheduler:  NewScheduler(st, exec, opts.MaxConcurrent),
		errorLimit: limit,
		now:        now,
	}
}

// Registry returns the handler registry the engine dispatches through.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Create validates and persists a new PENDING operation. A preview is
// evaluated immediately and is COMPLETED when Create returns.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (string, error) {
	if len(req.TargetIDs) == 0 {
		return "", fmt.Errorf("%w: an operation needs at least one target", ErrValidation)
	}
	if req.Name == "" {
		req.Name = string(req.Type)
	}
	if _, err := e.registry.Bind(req.Type, req.Params); err != nil {
		return "", err
	}

	op := &models.Operation{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		TargetIDs:   req.TargetIDs,
		Params:      req.Params,
		Status:      models.StatusPending,
		IsUndoable:  req.IsUndoable && !req.IsPreview,
		IsPreview:   req.IsPreview,
		CreatedAt:   e.now(),
	}
	op.Progress.Stage = StageInitializing
	if err := e.store.CreateOperation(ctx, op); err != nil {
		return "", err
	}
	logger.Info("bulk operation created", "operation_id", op.ID, "type", op.Type,
		"user_id", op.UserID, "total_items", op.TotalItems, "preview", op.IsPreview)

	if op.IsPreview {
		if _, err := e.executor.Preview(ctx, op); err != nil {
			return op.ID, err
		}
	}
	return op.ID, nil
}

// Start submits a PENDING operation to the worker pool.
func (e *Engine) Start(ctx context.Context, id string) error {
	if e.scheduler.IsActive(id) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	op, err := e.get(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != models.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, op.Status)
	}
	return e.scheduler.Submit(id)
}

// Lookup returns the operation if it belongs to userID.
func (e *Engine) Lookup(ctx context.Context, id string, userID int64) (*models.Operation, error) {
	return e.owned(ctx, id, userID)
}

// GetStatus returns the last durable view of an operation. Throughput and
// ETA of a running operation are recomputed at read time.
func (e *Engine) GetStatus(ctx context.Context, id string, errorLimit int) (*models.OperationView, error) {
	op, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if errorLimit <= 0 {
		errorLimit = e.errorLimit
	}
	errs, err := e.store.ListErrors(ctx, id, errorLimit)
	if err != nil {
		return nil, err
	}
	count, err := e.store.CountErrors(ctx, id)
	if err != nil {
		return nil, err
	}

	if op.Status == models.StatusRunning && op.StartedAt != nil {
		throughput, eta := Estimate(op.TotalItems, op.ProcessedItems, e.now().Sub(*op.StartedAt))
		op.Progress.ItemsPerSecond = throughput
		op.Progress.EstimatedSecondsLeft = nil
		if eta != nil {
			secs := eta.Seconds()
			op.Progress.EstimatedSecondsLeft = &secs
		}
	}
	return &models.OperationView{
		Operation:       op,
		ProgressPercent: op.ProgressPercent(),
		Errors:          errs,
		ErrorCount:      count,
	}, nil
}

// Cancel requests cooperative cancellation. It is safe to call repeatedly.
func (e *Engine) Cancel(ctx context.Context, id string, userID int64) (CancelResult, error) {
	op, err := e.owned(ctx, id, userID)
	if errors.Is(err, ErrNotFound) {
		return CancelNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if op.Status.IsTerminal() {
		return CancelAlreadyTerminal, nil
	}

	result, err := e.scheduler.Cancel(ctx, id)
	if err != nil || result != CancelNothingToCancel {
		return result, err
	}

	// Not held by this process: a PENDING operation never started, or a
	// RUNNING one left behind by a crash.
	from := []models.OperationStatus{models.StatusPending, models.StatusRunning}
	err = e.store.TransitionStatus(ctx, id, from, models.StatusCancelled, e.now())
	switch {
	case err == nil:
		logger.Info("operation cancelled", "operation_id", id, "active", false)
		return CancelOK, nil
	case errors.Is(err, store.ErrStatusConflict):
		return CancelAlreadyTerminal, nil
	case errors.Is(err, store.ErrNotFound):
		return CancelNotFound, nil
	default:
		return "", err
	}
}

// ListForUser returns a user's operations, newest first.
func (e *Engine) ListForUser(ctx context.Context, userID int64, status models.OperationStatus, limit int) ([]*models.Operation, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return e.store.ListOperationsForUser(ctx, userID, status, limit)
}

// Audit returns an operation's audit trail in application order.
func (e *Engine) Audit(ctx context.Context, id string, userID int64) ([]models.AuditEntry, error) {
	if _, err := e.owned(ctx, id, userID); err != nil {
		return nil, err
	}
	return e.store.ListAudit(ctx, id)
}

// ActiveOperations lists the operations held by the worker pool.
func (e *Engine) ActiveOperations() []ActiveJob {
	return e.scheduler.Active()
}

// IsActive reports whether this process is running or queueing id.
func (e *Engine) IsActive(id string) bool {
	return e.scheduler.IsActive(id)
}

// Shutdown stops the worker pool. Operations interrupted mid-run end FAILED.
func (e *Engine) Shutdown(ctx context.Context) error {
	logger.Info("shutting down bulk engine", "active", len(e.scheduler.Active()))
	return e.scheduler.Shutdown(ctx)
}

func (e *Engine) get(ctx context.Context, id string) (*models.Operation, error) {
	op, err := e.store.GetOperation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op, err
}

func (e *Engine) owned(ctx context.Context, id string, userID int64) (*models.Operation, error) {
	op, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op, nil
}
