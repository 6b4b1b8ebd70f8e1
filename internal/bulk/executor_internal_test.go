package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
	"github.com/vrsandeep/mvidarr-go/internal/testutil"
)

type noopParams struct {
	UndoParams
}

type noopHandler struct{}

func (noopHandler) Validate(noopParams) error { return nil }

func (noopHandler) Apply(context.Context, *sql.Tx, int64, noopParams) (Outcome, error) {
	return Outcome{Applied: true, ItemType: "thing"}, nil
}

func newNoopExecutor(t *testing.T, cfg ExecutorConfig) (*Executor, *store.Store) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	reg := NewRegistry()
	Register[noopParams](reg, "noop", noopHandler{})
	return NewExecutor(st, reg, cfg), st
}

func createNoop(t *testing.T, st *store.Store, id string, targets ...int64) {
	t.Helper()
	require.NoError(t, st.CreateOperation(context.Background(), &models.Operation{
		ID: id, UserID: 1, Type: "noop", TargetIDs: targets, Params: json.RawMessage(`{}`), CreatedAt: time.Now().UTC(),
	}))
}

func TestRunPersistsCancelRequestedBeforeStart(t *testing.T) {
	exec, st := newNoopExecutor(t, ExecutorConfig{})
	createNoop(t, st, "early", 1)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errCancelRequested)

	status, err := exec.Run(ctx, "early")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)

	op, err := st.GetOperation(context.Background(), "early")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, op.Status)
	assert.Nil(t, op.StartedAt)
}

func TestRunPersistsCancelRequestedBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	exec, st := newNoopExecutor(t, ExecutorConfig{
		ChunkSize: 1,
		OnChunkCommitted: func(op *models.Operation, chunk int) {
			if chunk == 0 {
				cancel(errCancelRequested)
			}
		},
	})
	createNoop(t, st, "between", 1, 2, 3)

	status, err := exec.Run(ctx, "between")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)

	op, err := st.GetOperation(context.Background(), "between")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, op.Status)
	assert.Equal(t, 1, op.ProcessedItems)
	errs, err := st.ListErrors(context.Background(), "between", 0)
	require.NoError(t, err)
	assert.Empty(t, errs, "a cancel is not an error")
}

func TestRunStillFailsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	exec, st := newNoopExecutor(t, ExecutorConfig{
		ChunkSize: 1,
		OnChunkCommitted: func(op *models.Operation, chunk int) {
			if chunk == 0 {
				cancel(context.Canceled)
			}
		},
	})
	createNoop(t, st, "shutdown", 1, 2)

	status, err := exec.Run(ctx, "shutdown")
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, models.StatusFailed, status)
}
