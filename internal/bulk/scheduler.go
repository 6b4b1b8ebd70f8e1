package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// DefaultMaxConcurrent is the default number of operations run at once.
const DefaultMaxConcurrent = 3

// CancelResult is the outcome of a cancel request.
type CancelResult string

const (
	CancelOK              CancelResult = "cancelled"
	CancelNotFound        CancelResult = "not_found"
	CancelAlreadyTerminal CancelResult = "already_terminal"
	CancelNothingToCancel CancelResult = "nothing_to_cancel"
)

// Runner executes one operation to a terminal state.
type Runner interface {
	Run(ctx context.Context, id string) (models.OperationStatus, error)
}

// ActiveJob describes an operation held by the scheduler.
type ActiveJob struct {
	OperationID     string    `json:"operation_id"`
	State           string    `json:"state"` // "queued", "running"
	SubmittedAt     time.Time `json:"submitted_at"`
	CancelRequested bool      `json:"cancel_requested"`

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Scheduler is a fixed pool of workers pulling operation ids off a
// submission queue. The active table holds every queued or running id and
// never grows past the pool size.
type Scheduler struct {
	store  Store
	runner Runner
	max    int

	mu     sync.Mutex
	active map[string]*ActiveJob
	closed bool

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler starts max workers. Call Shutdown to stop them.
func NewScheduler(st Store, runner Runner, max int) *Scheduler {
	return newScheduler(st, runner, max, true)
}

func newScheduler(st Store, runner Runner, max int, start bool) *Scheduler {
	if max <= 0 {
		max = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:  st,
		runner: runner,
		max:    max,
		active: make(map[string]*ActiveJob),
		queue:  make(chan string, max),
		ctx:    ctx,
		cancel: cancel,
	}
	if start {
		s.startWorkers()
	}
	return s
}

func (s *Scheduler) startWorkers() {
	for i := 0; i < s.max; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for id := range s.queue {
		if s.ctx.Err() != nil {
			// Drained after shutdown; the operation stays PENDING.
			s.release(id)
			continue
		}
		s.run(n, id)
	}
}

func (s *Scheduler) run(worker int, id string) {
	defer s.release(id)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("executor panicked", "operation_id", id, "worker", worker, "panic", fmt.Sprint(r))
		}
	}()

	s.mu.Lock()
	ctx := s.ctx
	if job, ok := s.active[id]; ok {
		job.State = "running"
		ctx = job.ctx
	}
	s.mu.Unlock()

	status, err := s.runner.Run(ctx, id)
	if err != nil {
		logger.Warn("operation finished with error", "operation_id", id, "worker", worker, "status", status, "error", err)
		return
	}
	logger.Info("operation finished", "operation_id", id, "worker", worker, "status", status)
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	if job, ok := s.active[id]; ok {
		job.cancel(nil)
		delete(s.active, id)
	}
	s.mu.Unlock()
}

// Submit queues an operation for execution. It never blocks.
func (s *Scheduler) Submit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShuttingDown
	}
	if _, ok := s.active[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	if len(s.active) >= s.max {
		logger.Info("operation rejected, scheduler at capacity", "operation_id", id, "max", s.max)
		return fmt.Errorf("%w (%d of %d slots in use)", ErrAtCapacity, len(s.active), s.max)
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	s.active[id] = &ActiveJob{OperationID: id, State: "queued", SubmittedAt: time.Now().UTC(), ctx: ctx, cancel: cancel}
	// The queue's capacity equals the slot count, so this send cannot block.
	s.queue <- id
	logger.Info("operation submitted", "operation_id", id, "active", len(s.active))
	return nil
}

// Cancel stops an active operation. The request is recorded in memory
// first, so it takes effect at the executor's next chunk boundary even if
// the status write below cannot be made; the executor then persists it.
func (s *Scheduler) Cancel(ctx context.Context, id string) (CancelResult, error) {
	s.mu.Lock()
	job, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return CancelNothingToCancel, nil
	}
	first := !job.CancelRequested
	job.CancelRequested = true
	job.cancel(errCancelRequested)
	s.mu.Unlock()

	from := []models.OperationStatus{models.StatusPending, models.StatusRunning}
	err := s.store.TransitionStatus(ctx, id, from, models.StatusCancelled, time.Now().UTC())
	switch {
	case err == nil:
		logger.Info("operation cancelled", "operation_id", id)
		return CancelOK, nil
	case errors.Is(err, store.ErrStatusConflict):
		if first && s.statusOf(ctx, id) == models.StatusCancelled {
			// The executor persisted this request before we could.
			return CancelOK, nil
		}
		return CancelAlreadyTerminal, nil
	case errors.Is(err, store.ErrNotFound):
		return CancelNotFound, nil
	default:
		logger.Warn("cancel recorded in memory only, executor will persist it", "operation_id", id, "error", err)
		return CancelOK, nil
	}
}

func (s *Scheduler) statusOf(ctx context.Context, id string) models.OperationStatus {
	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return ""
	}
	return op.Status
}

// IsActive reports whether id is queued or running.
func (s *Scheduler) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// Active returns a copy of the active table ordered by submission time.
func (s *Scheduler) Active() []ActiveJob {
	s.mu.Lock()
	jobs := make([]ActiveJob, 0, len(s.active))
	for _, j := range s.active {
		jobs = append(jobs, *j)
	}
	s.mu.Unlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt) })
	return jobs
}

// Capacity returns the pool size.
func (s *Scheduler) Capacity() int {
	return s.max
}

// Shutdown stops accepting submissions, cancels running executors and
// waits for the workers to exit or ctx to expire. Queued operations that no
// worker has picked up stay PENDING.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		// Cancel before closing so a worker draining the queue sees it.
		s.cancel()
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
