package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/config"
	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

var (
	ErrJobRunning  = errors.New("a job is already running")
	ErrJobNotFound = errors.New("job not found")
)

// JobContext provides the dependencies a maintenance job runs against.
// core.App implements it.
type JobContext interface {
	OperationStore() *store.Store
	Settings() *config.Config
	IsOperationActive(id string) bool
}

// A task returns the message shown in its status once it succeeds.
type jobTask func(ctx JobContext) (string, error)

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// JobManager runs registered maintenance jobs one at a time.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]jobTask
	status  map[string]*JobStatus
	running bool
	wg      sync.WaitGroup
}

func NewManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]jobTask),
		status: make(map[string]*JobStatus),
	}
}

func (jm *JobManager) Register(id, name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts a job in the background. It fails if any job is running.
func (jm *JobManager) RunJob(id string, ctx JobContext) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return ErrJobRunning
	}

	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("%w: '%s'", ErrJobNotFound, id)
	}

	jm.running = true
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.wg.Add(1)
	jm.mu.Unlock()

	logger.Info("starting job", "job", id)
	go func() {
		defer jm.wg.Done()
		var (
			message string
			err     error
		)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job panicked", "job", id, "panic", fmt.Sprint(r))
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			status.EndTime = time.Now()
			if err != nil {
				status.Status = "failed"
				status.Message = err.Error()
			} else {
				status.Status = "success"
				status.Message = message
				if status.Message == "" {
					status.Message = "Job completed successfully."
				}
			}
			jm.running = false
			jm.mu.Unlock()
			logger.Info("finished job", "job", id, "status", status.Status)
		}()

		message, err = task(ctx)
	}()
	return nil
}

// Wait blocks until the running job, if any, has finished.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

// GetStatus returns a copy of every job's status ordered by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
