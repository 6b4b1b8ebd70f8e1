package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
	"github.com/vrsandeep/mvidarr-go/internal/testutil"
)

func newOperation(id string, user int64, targets ...int64) *models.Operation {
	return &models.Operation{
		ID:         id,
		UserID:     user,
		Type:       models.TypeStatusUpdate,
		Name:       "op " + id,
		TargetIDs:  targets,
		Params:     json.RawMessage(`{"status":"WANTED"}`),
		IsUndoable: true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestOperationStore_CreateAndGet(t *testing.T) {
	s := store.New(testutil.SetupTestDB(t))
	ctx := context.Background()

	op := newOperation("op-1", 3, 10, 11, 12)
	require.NoError(t, s.CreateOperation(ctx, op))
	assert.Equal(t, 3, op.TotalItems)

	t.Run("Get Existing", func(t *testing.T) {
		got, err := s.GetOperation(ctx, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, []int64{10, 11, 12}, got.TargetIDs)
		assert.JSONEq(t, `{"status":"WANTED"}`, string(got.Params))
		assert.Equal(t, 3, got.TotalItems)
		assert.True(t, got.IsUndoable)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.UndoneAt)
	})

	t.Run("Get Missing", func(t *testing.T) {
		_, err := s.GetOperation(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Duplicate Id", func(t *testing.T) {
		err := s.CreateOperation(ctx, newOperation("op-1", 3, 1))
		assert.Error(t, err)
	})
}

func TestOperationStore_TransitionStatus(t *testing.T) {
	s := store.New(testutil.SetupTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.CreateOperation(ctx, newOperation("op-t", 1, 1)))
	pending := []models.OperationStatus{models.StatusPending}
	running := []models.OperationStatus{models.StatusRunning}

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.TransitionStatus(ctx, "op-t", pending, models.StatusRunning, started))

	// The guard no longer matches.
	err := s.TransitionStatus(ctx, "op-t", pending, models.StatusRunning, started.Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	err = s.TransitionStatus(ctx, "missing", pending, models.StatusRunning, started)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Backward moves are refused before touching the database.
	err = s.TransitionStatus(ctx, "op-t", []models.OperationStatus{models.StatusCompleted}, models.StatusRunning, started)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrStatusConflict)

	done := started.Add(time.Minute)
	require.NoError(t, s.TransitionStatus(ctx, "op-t", running, models.StatusCancelled, done))
	err = s.FinishOperation(ctx, "op-t", models.StatusCompleted, map[string]any{"x": 1}, "late", done.Add(time.Minute))
	assert.ErrorIs(t, err, store.ErrStatusConflict, "a cancelled operation cannot be completed")

	got, err := s.GetOperation(ctx, "op-t")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.True(t, started.Equal(*got.StartedAt))
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.Nil(t, got.Results)
}

func TestOperationStore_FinishAndProgress(t *testing.T) {
	s := store.New(testutil.SetupTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.CreateOperation(ctx, newOperation("op-f", 1, 1, 2)))

	// Progress is only accepted while running.
	err := s.UpdateProgress(ctx, "op-f", models.Progress{Stage: "processing"})
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	now := time.Now().UTC()
	require.NoError(t, s.TransitionStatus(ctx, "op-f", []models.OperationStatus{models.StatusPending}, models.StatusRunning, now))

	item := int64(2)
	eta := 12.5
	require.NoError(t, s.UpdateProgress(ctx, "op-f", models.Progress{
		Stage: "processing", CurrentItem: &item, Message: "half way",
		ItemsPerSecond: 4, RecentItemsPerSecond: 3.5, EstimatedSecondsLeft: &eta,
	}))
	got, err := s.GetOperation(ctx, "op-f")
	require.NoError(t, err)
	assert.Equal(t, "processing", got.Progress.Stage)
	assert.Equal(t, item, *got.Progress.CurrentItem)
	assert.Equal(t, 12.5, *got.Progress.EstimatedSecondsLeft)
	assert.Equal(t, 3.5, got.Progress.RecentItemsPerSecond)

	require.NoError(t, s.FinishOperation(ctx, "op-f", models.StatusCompleted,
		map[string]any{"updated": 2}, "Completed: 2 succeeded, 0 failed", now))
	got, err = s.GetOperation(ctx, "op-f")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.EqualValues(t, 2, got.Results["updated"])
	assert.Equal(t, "completed", got.Progress.Stage)
	assert.Nil(t, got.Progress.CurrentItem)
	assert.NotNil(t, got.CompletedAt)

	assert.Error(t, s.FinishOperation(ctx, "op-f", models.StatusRunning, nil, "", now))
}

func TestOperationStore_MarkUndone(t *testing.T) {
	s := store.New(testutil.SetupTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.CreateOperation(ctx, newOperation("op-u", 1, 1)))
	now := time.Now().UTC()

	assert.ErrorIs(t, s.MarkUndone(ctx, "op-u", 1, "inv", now), store.ErrStatusConflict, "only completed operations")

	require.NoError(t, s.TransitionStatus(ctx, "op-u", []models.OperationStatus{models.StatusPending}, models.StatusRunning, now))
	require.NoError(t, s.FinishOperation(ctx, "op-u", models.StatusCompleted, nil, "", now))
	require.NoError(t, s.MarkUndone(ctx, "op-u", 1, "inv", now))
	assert.ErrorIs(t, s.MarkUndone(ctx, "op-u", 1, "inv-2", now), store.ErrStatusConflict)

	got, err := s.GetOperation(ctx, "op-u")
	require.NoError(t, err)
	require.NotNil(t, got.UndoOperationID)
	assert.Equal(t, "inv", *got.UndoOperationID)
	assert.True(t, got.IsUndone())
}

func TestOperationStore_ListAndErrors(t *testing.T) {
	s := store.New(testutil.SetupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		op := newOperation(id, 1, 1)
		op.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateOperation(ctx, op))
	}
	require.NoError(t, s.CreateOperation(ctx, newOperation("other", 2, 1)))

	ops, err := s.ListOperationsForUser(ctx, 1, "", 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "c", ops[0].ID)
	assert.Equal(t, "a", ops[2].ID)

	require.NoError(t, s.TransitionStatus(ctx, "b", []models.OperationStatus{models.StatusPending}, models.StatusRunning, base))
	running, err := s.ListOperationsForUser(ctx, 1, models.StatusRunning, 10)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "b", running[0].ID)

	stale, err := s.ListStaleRunning(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	stale, err = s.ListStaleRunning(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	item := int64(5)
	require.NoError(t, s.AppendOperationError(ctx, "b", &item, "first"))
	require.NoError(t, s.AppendOperationError(ctx, "b", nil, "second"))
	require.NoError(t, s.AppendOperationError(ctx, "b", nil, "third"))

	errs, err := s.ListErrors(ctx, "b", 2)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "first", errs[0].Message)
	assert.Equal(t, item, *errs[0].ItemID)
	assert.Nil(t, errs[1].ItemID)

	n, err := s.CountErrors(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
