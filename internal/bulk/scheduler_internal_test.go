package bulk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

type countingRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *countingRunner) Run(_ context.Context, id string) (models.OperationStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, id)
	return models.StatusCompleted, nil
}

func TestShutdownLeavesQueuedJobsUnstarted(t *testing.T) {
	runner := &countingRunner{}
	s := newScheduler(nil, runner, 2, false)
	require.NoError(t, s.Submit("queued-1"))
	require.NoError(t, s.Submit("queued-2"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	// Workers that only reach the queue after shutdown drain it without
	// running anything.
	s.startWorkers()
	s.wg.Wait()

	runner.mu.Lock()
	assert.Empty(t, runner.runs)
	runner.mu.Unlock()
	assert.Empty(t, s.Active())
}

func TestReleaseCancelsJobContext(t *testing.T) {
	s := newScheduler(nil, &countingRunner{}, 1, false)
	require.NoError(t, s.Submit("job"))

	s.mu.Lock()
	jobCtx := s.active["job"].ctx
	s.mu.Unlock()

	s.release("job")
	assert.Error(t, jobCtx.Err())
	assert.False(t, cancelRequested(jobCtx))
	assert.False(t, s.IsActive("job"))
	require.NoError(t, s.Shutdown(context.Background()))
}
