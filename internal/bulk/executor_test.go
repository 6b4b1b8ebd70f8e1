package bulk_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
	"github.com/vrsandeep/mvidarr-go/internal/testutil"
)

// scriptedHandler fails or panics on chosen items and succeeds elsewhere.
type scriptedParams struct {
	bulk.UndoParams
	Label string `json:"label"`
}

type scriptedHandler struct {
	fail  map[int64]error
	panic map[int64]bool
	seen  []int64
}

func (h *scriptedHandler) Validate(p scriptedParams) error {
	if p.Label == "" && !p.IsUndo() {
		return errors.New("label is required")
	}
	return nil
}

func (h *scriptedHandler) Apply(ctx context.Context, tx *sql.Tx, id int64, p scriptedParams) (bulk.Outcome, error) {
	h.seen = append(h.seen, id)
	if h.panic[id] {
		panic("scripted panic")
	}
	if err := h.fail[id]; err != nil {
		return bulk.Outcome{}, err
	}
	return bulk.Outcome{
		Applied:      true,
		ItemType:     "thing",
		Changes:      []bulk.Change{{Action: models.ActionUpdate, Field: ptr("label"), Old: "old", New: p.Label}},
		UndoSnapshot: map[string]string{"label": "old"},
		Tally:        "labelled",
	}, nil
}

func ptr[T any](v T) *T { return &v }

const scriptedType models.OperationType = "scripted"

func setupExecutor(t *testing.T, h *scriptedHandler, cfg bulk.ExecutorConfig) (*bulk.Executor, *store.Store) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	reg := bulk.NewRegistry()
	bulk.Register[scriptedParams](reg, scriptedType, h)
	return bulk.NewExecutor(st, reg, cfg), st
}

func insertOperation(t *testing.T, st *store.Store, id string, targets []int64, undoable bool) {
	t.Helper()
	require.NoError(t, st.CreateOperation(context.Background(), &models.Operation{
		ID:         id,
		UserID:     1,
		Type:       scriptedType,
		TargetIDs:  targets,
		Params:     json.RawMessage(`{"label":"new"}`),
		IsUndoable: undoable,
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestExecutorRecordsItemErrorsAndPanics(t *testing.T) {
	h := &scriptedHandler{
		fail:  map[int64]error{2: bulk.ErrValidation},
		panic: map[int64]bool{4: true},
	}
	exec, st := setupExecutor(t, h, bulk.ExecutorConfig{ChunkSize: 2})
	insertOperation(t, st, "op-1", []int64{1, 2, 3, 4, 5}, true)
	ctx := context.Background()

	status, err := exec.Run(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, h.seen)

	op, err := st.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 5, op.ProcessedItems)
	assert.Equal(t, 3, op.SuccessfulItems)
	assert.Equal(t, 2, op.FailedItems)
	assert.EqualValues(t, 3, op.Results["labelled"])
	assert.Equal(t, bulk.StageCompleted, op.Progress.Stage)
	assert.Nil(t, op.Progress.CurrentItem)

	errs, err := st.ListErrors(ctx, "op-1", 0)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, int64(2), *errs[0].ItemID)
	assert.Equal(t, int64(4), *errs[1].ItemID)
	assert.Contains(t, errs[1].Message, "panicked")

	audit, err := st.ListAudit(ctx, "op-1")
	require.NoError(t, err)
	require.Len(t, audit, 3)
	for i, want := range []int64{1, 3, 5} {
		assert.Equal(t, want, audit[i].ItemID)
		assert.EqualValues(t, i+1, audit[i].BatchSequence)
		assert.JSONEq(t, `"old"`, string(audit[i].OldValue))
		assert.JSONEq(t, `"new"`, string(audit[i].NewValue))
	}

	undo, err := st.LoadUndoData(ctx, "op-1")
	require.NoError(t, err)
	assert.Len(t, undo, 3)
	assert.JSONEq(t, `{"label":"old"}`, string(undo[3]))
}

func TestExecutorSkipsUndoDataWhenNotUndoable(t *testing.T) {
	exec, st := setupExecutor(t, &scriptedHandler{}, bulk.ExecutorConfig{})
	insertOperation(t, st, "op-plain", []int64{1, 2}, false)
	ctx := context.Background()

	_, err := exec.Run(ctx, "op-plain")
	require.NoError(t, err)
	undo, err := st.LoadUndoData(ctx, "op-plain")
	require.NoError(t, err)
	assert.Empty(t, undo)
}

func TestExecutorShutdownBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec, st := setupExecutor(t, &scriptedHandler{}, bulk.ExecutorConfig{
		ChunkSize: 1,
		OnChunkCommitted: func(op *models.Operation, chunk int) {
			if chunk == 0 {
				cancel()
			}
		},
	})
	insertOperation(t, st, "op-shutdown", []int64{1, 2, 3}, false)

	status, err := exec.Run(ctx, "op-shutdown")
	assert.ErrorIs(t, err, bulk.ErrShuttingDown)
	assert.Equal(t, models.StatusFailed, status)

	op, err := st.GetOperation(context.Background(), "op-shutdown")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, op.Status)
	assert.Equal(t, 1, op.ProcessedItems, "counters stay at the last committed chunk")

	errs, err := st.ListErrors(context.Background(), "op-shutdown", 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Nil(t, errs[0].ItemID)
	assert.Contains(t, errs[0].Message, "interrupted by shutdown")
}

func TestExecutorRefusesNonPending(t *testing.T) {
	exec, st := setupExecutor(t, &scriptedHandler{}, bulk.ExecutorConfig{})
	insertOperation(t, st, "op-twice", []int64{1}, false)
	ctx := context.Background()

	status, err := exec.Run(ctx, "op-twice")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, status)

	status, err = exec.Run(ctx, "op-twice")
	assert.ErrorIs(t, err, bulk.ErrNotPending)
	assert.Equal(t, models.StatusCompleted, status)
}

func TestExecutorRunsCancelledBeforePickup(t *testing.T) {
	h := &scriptedHandler{}
	exec, st := setupExecutor(t, h, bulk.ExecutorConfig{})
	insertOperation(t, st, "op-early", []int64{1}, false)
	ctx := context.Background()
	require.NoError(t, st.TransitionStatus(ctx, "op-early",
		[]models.OperationStatus{models.StatusPending}, models.StatusCancelled, time.Now().UTC()))

	status, err := exec.Run(ctx, "op-early")
	assert.ErrorIs(t, err, bulk.ErrNotPending)
	assert.Equal(t, models.StatusCancelled, status)
	assert.Empty(t, h.seen)
}

func TestExecutorThrottle(t *testing.T) {
	exec, st := setupExecutor(t, &scriptedHandler{}, bulk.ExecutorConfig{ChunkSize: 2, ItemsPerSecond: 20})
	insertOperation(t, st, "op-slow", []int64{1, 2, 3, 4, 5, 6}, false)

	start := time.Now()
	status, err := exec.Run(context.Background(), "op-slow")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
	// The first chunk fits the burst; the remaining four items wait ~200ms.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestChunk(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, bulk.Chunk(ids, 2))
	assert.Equal(t, [][]int64{{1, 2, 3, 4, 5}}, bulk.Chunk(ids, 50))
	assert.Empty(t, bulk.Chunk(nil, 3))
	assert.Len(t, bulk.Chunk(make([]int64, 120), 0), 3)
}
