package bulk

import (
	"fmt"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/dustin/go-humanize"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

// Progress stage labels.
const (
	StageInitializing = "initializing"
	StageProcessing   = "processing"
	StageCompleted    = "completed"
)

// Estimate returns throughput in items per second and the time remaining.
// The ETA is nil while throughput is zero.
func Estimate(total, processed int, elapsed time.Duration) (float64, *time.Duration) {
	seconds := elapsed.Seconds()
	if seconds <= 0 || processed <= 0 {
		return 0, nil
	}
	throughput := float64(processed) / seconds
	remaining := total - processed
	if remaining < 0 {
		remaining = 0
	}
	eta := time.Duration(float64(remaining) / throughput * float64(time.Second))
	return throughput, &eta
}

// ProgressTracker builds the advisory snapshots published at every chunk
// boundary. Alongside the whole-run rate it keeps a moving average of the
// per-chunk rates, which reacts faster when a run slows down.
type ProgressTracker struct {
	total   int
	started time.Time
	now     func() time.Time

	recent        ewma.MovingAverage
	lastProcessed int
	lastAt        time.Time
}

func NewProgressTracker(total int, started time.Time, now func() time.Time) *ProgressTracker {
	if now == nil {
		now = time.Now
	}
	return &ProgressTracker{
		total:   total,
		started: started,
		now:     now,
		recent:  ewma.NewMovingAverage(),
		lastAt:  started,
	}
}

// Observe feeds the tracker the processed count after a committed chunk.
func (p *ProgressTracker) Observe(processed int) {
	at := p.now()
	dt := at.Sub(p.lastAt).Seconds()
	if dt > 0 && processed > p.lastProcessed {
		p.recent.Add(float64(processed-p.lastProcessed) / dt)
	}
	p.lastProcessed = processed
	p.lastAt = at
}

// Snapshot returns the progress view for the given processed count.
func (p *ProgressTracker) Snapshot(stage string, processed int, current *int64) models.Progress {
	at := p.now()
	throughput, eta := Estimate(p.total, processed, at.Sub(p.started))

	snap := models.Progress{
		Stage:                stage,
		CurrentItem:          current,
		ItemsPerSecond:       throughput,
		RecentItemsPerSecond: p.recent.Value(),
		UpdatedAt:            &at,
		Message:              progressMessage(p.total, processed, eta, at),
	}
	if eta != nil {
		secs := eta.Seconds()
		snap.EstimatedSecondsLeft = &secs
	}
	return snap
}

func progressMessage(total, processed int, eta *time.Duration, at time.Time) string {
	head := fmt.Sprintf("Processed %s of %s items", humanize.Comma(int64(processed)), humanize.Comma(int64(total)))
	switch {
	case processed >= total:
		return head
	case eta == nil:
		return head + ", time remaining unknown"
	case *eta < time.Second:
		return head + ", almost done"
	default:
		return head + ", about " + humanize.RelTime(at, at.Add(*eta), "remaining", "ago")
	}
}
