package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// DefaultChunkSize is the number of targets committed together.
const DefaultChunkSize = 50

// ChunkHook is called after a chunk has been durably committed, before the
// executor re-reads the operation's status.
type ChunkHook func(op *models.Operation, chunk int)

// Executor drives one operation through its target list chunk by chunk.
// Items within a chunk are processed sequentially.
type Executor struct {
	store     Store
	registry  *Registry
	chunkSize int
	limiter   *rate.Limiter
	onChunk   ChunkHook
	now       func() time.Time

	previewSecondsPerItem float64
}

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	ChunkSize int
	// ItemsPerSecond paces chunks; 0 leaves the executor unthrottled.
	ItemsPerSecond        float64
	PreviewSecondsPerItem float64
	OnChunkCommitted      ChunkHook
	Now                   func() time.Time
}

func NewExecutor(st Store, registry *Registry, cfg ExecutorConfig) *Executor {
	e := &Executor{
		store:                 st,
		registry:              registry,
		chunkSize:             cfg.ChunkSize,
		onChunk:               cfg.OnChunkCommitted,
		now:                   cfg.Now,
		previewSecondsPerItem: cfg.PreviewSecondsPerItem,
	}
	if e.chunkSize <= 0 {
		e.chunkSize = DefaultChunkSize
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.ItemsPerSecond > 0 {
		// The burst covers a whole chunk so pacing happens between chunks.
		e.limiter = rate.NewLimiter(rate.Limit(cfg.ItemsPerSecond), e.chunkSize)
	}
	return e
}

// ChunkSize returns the configured chunk size.
func (e *Executor) ChunkSize() int {
	return e.chunkSize
}

// runState is the executor's copy of the durably committed counters.
type runState struct {
	op         *models.Operation
	processed  int
	successful int
	failed     int
	sequence   int64
	tallies    map[string]int
	tracker    *ProgressTracker
}

// Run executes a PENDING operation and returns the status it ended in.
// Cancellation of ctx is honoured only between chunks. A cause of
// errCancelRequested ends the run CANCELLED; any other cause is shutdown.
func (e *Executor) Run(ctx context.Context, id string) (models.OperationStatus, error) {
	log := logger.With("operation_id", id)

	if ctx.Err() != nil {
		if cancelRequested(ctx) {
			return e.cancelPending(ctx, id)
		}
		return models.StatusPending, ErrShuttingDown
	}

	op, err := e.store.GetOperation(ctx, id)
	if err != nil {
		return "", fmt.Errorf("loading operation %s: %w", id, err)
	}
	if op.Status != models.StatusPending {
		return op.Status, fmt.Errorf("%w: %s is %s", ErrNotPending, id, op.Status)
	}
	if op.IsPreview {
		return e.Preview(ctx, op)
	}

	startedAt := e.now()
	if err := e.store.TransitionStatus(ctx, id, []models.OperationStatus{models.StatusPending}, models.StatusRunning, startedAt); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// Cancelled between submission and pickup.
			return e.currentStatus(ctx, id), nil
		}
		return models.StatusPending, fmt.Errorf("starting operation %s: %w", id, err)
	}
	op.Status = models.StatusRunning
	op.StartedAt = &startedAt
	log = log.With("type", op.Type)
	log.Info("bulk operation started", "total_items", op.TotalItems, "chunk_size", e.chunkSize)

	state := &runState{
		op:      op,
		tallies: map[string]int{},
		tracker: NewProgressTracker(op.TotalItems, startedAt, e.now),
	}
	e.publish(ctx, state, StageInitializing, nil)

	apply, err := e.registry.Bind(op.Type, op.Params)
	if err != nil {
		return e.fail(ctx, state, err)
	}

	chunks := Chunk(op.TargetIDs, e.chunkSize)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return e.stop(ctx, state)
		}
		if e.limiter != nil {
			if err := e.limiter.WaitN(ctx, len(chunk)); err != nil {
				return e.stop(ctx, state)
			}
		}

		first := chunk[0]
		e.publish(ctx, state, StageProcessing, &first)

		// The chunk itself runs to completion even if ctx is cancelled meanwhile.
		if err := e.runChunk(context.WithoutCancel(ctx), state, apply, chunk); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				status := e.currentStatus(ctx, id)
				log.Info("bulk operation stopped at chunk boundary", "status", status, "chunk", i, "processed", state.processed)
				return status, nil
			}
			return e.fail(ctx, state, err)
		}
		state.tracker.Observe(state.processed)
		log.Debug("chunk committed", "chunk", i, "processed", state.processed, "failed", state.failed)

		if e.onChunk != nil {
			snapshot := *op
			snapshot.ProcessedItems, snapshot.SuccessfulItems, snapshot.FailedItems = state.processed, state.successful, state.failed
			e.onChunk(&snapshot, i)
		}

		current, err := e.store.GetOperation(context.WithoutCancel(ctx), id)
		if err != nil {
			return e.fail(ctx, state, fmt.Errorf("re-reading status: %w", err))
		}
		if current.Status == models.StatusCancelled {
			log.Info("bulk operation cancelled", "processed", state.processed, "total_items", op.TotalItems)
			return models.StatusCancelled, nil
		}
		if current.Status != models.StatusRunning {
			return current.Status, nil
		}
		if cancelRequested(ctx) {
			return e.cancelRunning(ctx, state)
		}
	}

	return e.complete(ctx, state)
}

// runChunk applies every item of chunk, each in its own transaction, then
// commits the chunk's counters. Counters are only written while the
// operation is still RUNNING, so a cancel that lands mid-chunk leaves them
// at the previous boundary. On success state reflects the committed values.
func (e *Executor) runChunk(ctx context.Context, state *runState, apply ApplyFunc, chunk []int64) error {
	processed, successful, failed := state.processed, state.successful, state.failed
	tallies := map[string]int{}

	for _, itemID := range chunk {
		out, next, itemErr := e.runItem(ctx, state, apply, itemID)

		processed++
		if itemErr != nil {
			if isOperationLevel(itemErr) {
				return itemErr
			}
			failed++
			if err := e.store.AppendOperationError(ctx, state.op.ID, &itemID, itemErr.Error()); err != nil {
				return err
			}
			continue
		}
		successful++
		// Audit rows for this item are committed, so later items number on
		// from here even if the chunk's counters never are.
		state.sequence = next
		switch {
		case !out.Applied:
			tallies["skipped"]++
		case out.Tally != "":
			tallies[out.Tally]++
		}
	}

	if err := e.store.CommitCounters(ctx, state.op.ID, processed, successful, failed); err != nil {
		return err
	}
	state.processed, state.successful, state.failed = processed, successful, failed
	for k, v := range tallies {
		state.tallies[k] += v
	}
	return nil
}

// maxItemAttempts bounds retries of an item whose transaction lost the
// race for sqlite's write lock.
const maxItemAttempts = 5

// runItem applies one item, retrying from a fresh transaction while the
// store reports it busy.
func (e *Executor) runItem(ctx context.Context, state *runState, apply ApplyFunc, itemID int64) (Outcome, int64, error) {
	var (
		out  Outcome
		next int64
		err  error
	)
	for attempt := 1; attempt <= maxItemAttempts; attempt++ {
		out, next, err = e.tryItem(ctx, state, apply, itemID)
		if err == nil || !store.IsBusy(err) {
			return out, next, err
		}
		logger.Debug("item transaction busy, retrying", "operation_id", state.op.ID, "item_id", itemID, "attempt", attempt)
		time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
	}
	return out, next, err
}

func (e *Executor) tryItem(ctx context.Context, state *runState, apply ApplyFunc, itemID int64) (Outcome, int64, error) {
	tx, err := e.store.BeginItem(ctx, state.op.ID)
	if err != nil {
		return Outcome{}, state.sequence, err
	}
	defer tx.Rollback()

	out, err := e.applyItem(ctx, apply, tx.Tx(), itemID)
	if err != nil {
		return out, state.sequence, err
	}
	next, err := e.record(ctx, tx, state.op, itemID, out, state.sequence)
	if err != nil {
		return out, state.sequence, err
	}
	if err := tx.Commit(); err != nil {
		return out, state.sequence, err
	}
	return out, next, nil
}

// applyItem invokes the handler, turning a panic into an item error.
func (e *Executor) applyItem(ctx context.Context, apply ApplyFunc, tx *sql.Tx, itemID int64) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked on item %d: %v", itemID, r)
		}
	}()
	return apply(ctx, tx, itemID)
}

// record writes the audit entries and undo snapshot for a successful item
// and returns the next batch sequence.
func (e *Executor) record(ctx context.Context, tx store.ItemTx, op *models.Operation, itemID int64, out Outcome, sequence int64) (int64, error) {
	if !out.Applied {
		return sequence, nil
	}
	at := e.now()
	for _, c := range out.Changes {
		oldValue, err := marshalValue(c.Old)
		if err != nil {
			return sequence, err
		}
		newValue, err := marshalValue(c.New)
		if err != nil {
			return sequence, err
		}
		sequence++
		entry := models.AuditEntry{
			BatchSequence: sequence,
			ItemType:      out.ItemType,
			ItemID:        itemID,
			Action:        c.Action,
			FieldName:     c.Field,
			OldValue:      oldValue,
			NewValue:      newValue,
			CreatedAt:     at,
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return sequence, err
		}
	}
	if op.IsUndoable && out.UndoSnapshot != nil {
		snapshot, err := json.Marshal(out.UndoSnapshot)
		if err != nil {
			return sequence, fmt.Errorf("encoding undo snapshot for item %d: %w", itemID, err)
		}
		if err := tx.MergeUndoSnapshot(ctx, itemID, snapshot); err != nil {
			return sequence, err
		}
	}
	return sequence, nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding audit value: %w", err)
	}
	return b, nil
}

func (e *Executor) complete(ctx context.Context, state *runState) (models.OperationStatus, error) {
	op := state.op
	if cancelRequested(ctx) {
		return e.cancelRunning(ctx, state)
	}
	// Every chunk is durable by now, so finish even if shutdown has begun.
	ctx = context.WithoutCancel(ctx)
	elapsed := e.now().Sub(*op.StartedAt)
	results := map[string]any{
		"total_items":      op.TotalItems,
		"successful_items": state.successful,
		"failed_items":     state.failed,
		"elapsed_seconds":  elapsed.Seconds(),
	}
	for k, v := range state.tallies {
		results[k] = v
	}
	message := fmt.Sprintf("Completed: %d succeeded, %d failed", state.successful, state.failed)

	err := e.store.FinishOperation(ctx, op.ID, models.StatusCompleted, results, message, e.now())
	if errors.Is(err, store.ErrStatusConflict) {
		// A cancel landed after the last status check; it wins.
		return e.currentStatus(ctx, op.ID), nil
	}
	if err != nil {
		return e.fail(ctx, state, fmt.Errorf("writing final status: %w", err))
	}
	logger.Info("bulk operation completed", "operation_id", op.ID, "type", op.Type,
		"successful", state.successful, "failed", state.failed, "elapsed", elapsed.String())
	return models.StatusCompleted, nil
}

// stop ends a run whose context was cancelled between chunks.
func (e *Executor) stop(ctx context.Context, state *runState) (models.OperationStatus, error) {
	if cancelRequested(ctx) {
		return e.cancelRunning(ctx, state)
	}
	return e.fail(ctx, state, fmt.Errorf("%w: interrupted by shutdown after %d of %d items", ErrShuttingDown, state.processed, state.op.TotalItems))
}

// cancelPending persists a cancel that reached a job before it started.
func (e *Executor) cancelPending(ctx context.Context, id string) (models.OperationStatus, error) {
	ctx = context.WithoutCancel(ctx)
	err := e.store.TransitionStatus(ctx, id, []models.OperationStatus{models.StatusPending}, models.StatusCancelled, e.now())
	if errors.Is(err, store.ErrStatusConflict) {
		return e.currentStatus(ctx, id), nil
	}
	if err != nil {
		return models.StatusPending, fmt.Errorf("cancelling operation %s: %w", id, err)
	}
	logger.Info("bulk operation cancelled before start", "operation_id", id)
	return models.StatusCancelled, nil
}

// cancelRunning persists a cancel the scheduler recorded in memory. The
// scheduler normally wrote it already, in which case this is a no-op.
func (e *Executor) cancelRunning(ctx context.Context, state *runState) (models.OperationStatus, error) {
	op := state.op
	ctx = context.WithoutCancel(ctx)
	err := e.store.TransitionStatus(ctx, op.ID, []models.OperationStatus{models.StatusRunning}, models.StatusCancelled, e.now())
	if errors.Is(err, store.ErrStatusConflict) {
		return e.currentStatus(ctx, op.ID), nil
	}
	if err != nil {
		logger.Error("could not record cancellation", "operation_id", op.ID, "error", err)
		return models.StatusRunning, fmt.Errorf("cancelling operation %s: %w", op.ID, err)
	}
	logger.Info("bulk operation cancelled", "operation_id", op.ID, "processed", state.processed, "total_items", op.TotalItems)
	return models.StatusCancelled, nil
}

// fail records an operation-level error and moves the operation to FAILED.
// Counters are left at their last committed values.
func (e *Executor) fail(ctx context.Context, state *runState, cause error) (models.OperationStatus, error) {
	op := state.op
	ctx = context.WithoutCancel(ctx)
	logger.Error("bulk operation failed", "operation_id", op.ID, "type", op.Type, "error", cause)

	if err := e.store.AppendOperationError(ctx, op.ID, nil, cause.Error()); err != nil {
		logger.Error("could not record operation error", "operation_id", op.ID, "error", err)
	}
	results := map[string]any{"error": cause.Error()}
	err := e.store.FinishOperation(ctx, op.ID, models.StatusFailed, results, "Failed: "+cause.Error(), e.now())
	if errors.Is(err, store.ErrStatusConflict) {
		return e.currentStatus(ctx, op.ID), cause
	}
	if err != nil {
		logger.Error("could not mark operation failed", "operation_id", op.ID, "error", err)
		return models.StatusRunning, errors.Join(cause, err)
	}
	return models.StatusFailed, cause
}

func (e *Executor) publish(ctx context.Context, state *runState, stage string, current *int64) {
	snap := state.tracker.Snapshot(stage, state.processed, current)
	if err := e.store.UpdateProgress(ctx, state.op.ID, snap); err != nil && !errors.Is(err, store.ErrStatusConflict) {
		logger.Warn("could not publish progress", "operation_id", state.op.ID, "error", err)
	}
}

func (e *Executor) currentStatus(ctx context.Context, id string) models.OperationStatus {
	op, err := e.store.GetOperation(context.WithoutCancel(ctx), id)
	if err != nil {
		return ""
	}
	return op.Status
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
