package bulk_test

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
	"github.com/vrsandeep/mvidarr-go/internal/testutil"
)

const gatedType models.OperationType = "gated_status_update"

type gatedParams struct {
	bulk.UndoParams
	Status models.VideoStatus `json:"status"`
}

// gatedHandler sets a video's status, parking inside Apply on one chosen
// item until released. It parks only once, so a retried item runs freely.
type gatedHandler struct {
	st      *store.Store
	gateOn  int64
	entered chan struct{}
	release chan struct{}
	park    sync.Once
	opened  sync.Once
}

func newGatedHandler(st *store.Store, gateOn int64) *gatedHandler {
	return &gatedHandler{st: st, gateOn: gateOn, entered: make(chan struct{}), release: make(chan struct{})}
}

func (h *gatedHandler) Validate(gatedParams) error { return nil }

func (h *gatedHandler) Apply(ctx context.Context, tx *sql.Tx, id int64, p gatedParams) (bulk.Outcome, error) {
	if id == h.gateOn {
		h.park.Do(func() {
			close(h.entered)
			<-h.release
		})
	}
	if err := h.st.UpdateVideoStatus(ctx, tx, id, p.Status); err != nil {
		return bulk.Outcome{}, err
	}
	return bulk.Outcome{Applied: true, ItemType: "video"}, nil
}

func (h *gatedHandler) open() {
	h.opened.Do(func() { close(h.release) })
}

func (h *gatedHandler) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-h.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never reached the gated item")
	}
}

// setupGated builds an engine whose gated handler parks on gateOn. The
// video ids must be known up front, so the gate is set after seeding.
func setupGated(t *testing.T, opts bulk.Options, wrap func(bulk.Store) bulk.Store) (*testEnv, func(gateOn int64) *gatedHandler) {
	t.Helper()
	var h *gatedHandler
	env := setupEngineWith(t, opts, wrap, func(reg *bulk.Registry, st *store.Store) {
		h = newGatedHandler(st, 0)
		bulk.Register[gatedParams](reg, gatedType, h)
	})
	// Runs before the engine's shutdown cleanup.
	t.Cleanup(func() { h.open() })
	return env, func(gateOn int64) *gatedHandler {
		h.gateOn = gateOn
		return h
	}
}

func startGated(t *testing.T, env *testEnv, targets []int64) string {
	t.Helper()
	return createAndStart(t, env, bulk.CreateRequest{
		UserID:    testUser,
		Type:      gatedType,
		TargetIDs: targets,
		Params:    statusParams(models.VideoIgnored),
	})
}

func TestInFlightItemDoesNotBlockOtherWriters(t *testing.T) {
	env, gate := setupGated(t, bulk.Options{MaxConcurrent: 3}, nil)
	artist := testutil.SeedArtist(t, env.db, "Writers")
	ids := testutil.SeedVideos(t, env.db, artist, 2, "WANTED")
	h := gate(ids[0])
	ctx := context.Background()

	blocked := startGated(t, env, ids[:1])
	h.waitEntered(t)

	// Create and a whole other operation go through while the gated item
	// is still inside its handler.
	start := time.Now()
	other := createAndStart(t, env, bulk.CreateRequest{
		UserID:    testUser,
		Type:      models.TypeStatusUpdate,
		TargetIDs: ids[1:],
		Params:    statusParams(models.VideoDownloaded),
	})
	assert.Equal(t, models.StatusCompleted, waitForTerminal(t, env.engine, other).Status)
	assert.Equal(t, "DOWNLOADED", testutil.VideoStatus(t, env.db, ids[1]))

	res, err := env.engine.Cancel(ctx, blocked, testUser)
	require.NoError(t, err)
	assert.Equal(t, bulk.CancelOK, res)
	assert.Less(t, time.Since(start), 3*time.Second, "writers waited on the in-flight item")

	op, err := env.store.GetOperation(ctx, blocked)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, op.Status)

	h.open()
	view := waitForTerminal(t, env.engine, blocked)
	assert.Equal(t, models.StatusCancelled, view.Status)
	// The in-flight item finishes; counters stay at the last boundary.
	assert.Equal(t, "IGNORED", testutil.VideoStatus(t, env.db, ids[0]))
	assert.Zero(t, view.ProcessedItems)
	assertCounters(t, view.Operation)
}

func TestCancelWhileItemInFlight(t *testing.T) {
	env, gate := setupGated(t, bulk.Options{ChunkSize: 2}, nil)
	artist := testutil.SeedArtist(t, env.db, "Midflight")
	ids := testutil.SeedVideos(t, env.db, artist, 6, "WANTED")
	h := gate(ids[2])
	ctx := context.Background()

	id := startGated(t, env, ids)
	h.waitEntered(t)

	res, err := env.engine.Cancel(ctx, id, testUser)
	require.NoError(t, err)
	assert.Equal(t, bulk.CancelOK, res)
	h.open()

	view := waitForTerminal(t, env.engine, id)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.Equal(t, 2, view.ProcessedItems, "counters stay at the first chunk")
	assert.Equal(t, 2, view.SuccessfulItems)
	assertCounters(t, view.Operation)
	assert.Empty(t, view.Errors)

	assert.Equal(t, "IGNORED", testutil.VideoStatus(t, env.db, ids[0]))
	assert.Equal(t, "IGNORED", testutil.VideoStatus(t, env.db, ids[1]))
	assert.Equal(t, "IGNORED", testutil.VideoStatus(t, env.db, ids[2]), "the in-flight item finishes")
	assert.Equal(t, "WANTED", testutil.VideoStatus(t, env.db, ids[4]))
	assert.Equal(t, "WANTED", testutil.VideoStatus(t, env.db, ids[5]))
}

func TestCancelRacingFinalWrite(t *testing.T) {
	env, gate := setupGated(t, bulk.Options{ChunkSize: 50}, nil)
	artist := testutil.SeedArtist(t, env.db, "Final")
	ids := testutil.SeedVideos(t, env.db, artist, 3, "WANTED")
	// The last item of the only chunk: once it returns the executor goes
	// straight to the final COMPLETED write.
	h := gate(ids[2])
	ctx := context.Background()

	id := startGated(t, env, ids)
	h.waitEntered(t)

	res, err := env.engine.Cancel(ctx, id, testUser)
	require.NoError(t, err)
	assert.Equal(t, bulk.CancelOK, res)
	h.open()

	view := waitForTerminal(t, env.engine, id)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.NotNil(t, view.CompletedAt)
	assert.NotContains(t, view.Results, "successful_items")
	assertCounters(t, view.Operation)

	// Nothing resurrects it afterwards.
	res, err = env.engine.Cancel(ctx, id, testUser)
	require.NoError(t, err)
	assert.Equal(t, bulk.CancelAlreadyTerminal, res)
	op, err := env.store.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, op.Status)
}

// flakyCancelStore fails the first n transitions to CANCELLED as if another
// writer held the lock.
type flakyCancelStore struct {
	bulk.Store
	failures atomic.Int32
}

func (s *flakyCancelStore) TransitionStatus(ctx context.Context, id string, from []models.OperationStatus, to models.OperationStatus, at time.Time) error {
	if to == models.StatusCancelled && s.failures.Add(-1) >= 0 {
		return store.ErrBusy
	}
	return s.Store.TransitionStatus(ctx, id, from, to, at)
}

func TestCancelSurvivesFailedStatusWrite(t *testing.T) {
	var flaky *flakyCancelStore
	env, gate := setupGated(t, bulk.Options{ChunkSize: 1}, func(st bulk.Store) bulk.Store {
		flaky = &flakyCancelStore{Store: st}
		flaky.failures.Store(1)
		return flaky
	})
	artist := testutil.SeedArtist(t, env.db, "Flaky")
	ids := testutil.SeedVideos(t, env.db, artist, 3, "WANTED")
	h := gate(ids[0])
	ctx := context.Background()

	id := startGated(t, env, ids)
	h.waitEntered(t)

	res, err := env.engine.Cancel(ctx, id, testUser)
	require.NoError(t, err)
	assert.Equal(t, bulk.CancelOK, res)
	op, err := env.store.GetOperation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, op.Status, "the status write was refused")
	h.open()

	// The executor persists the request at the next boundary.
	view := waitForTerminal(t, env.engine, id)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.Equal(t, 1, view.ProcessedItems)
	assertCounters(t, view.Operation)
	assert.Equal(t, "WANTED", testutil.VideoStatus(t, env.db, ids[1]))
	assert.Equal(t, "WANTED", testutil.VideoStatus(t, env.db, ids[2]))
}
