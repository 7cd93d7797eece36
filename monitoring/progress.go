package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar follows how far a run has advanced towards its tick limit.
type ProgressBar struct {
	mu sync.Mutex

	id        string
	name      string
	startTime time.Time
	total     uint64
	finished  uint64
}

// ProgressReport is a point-in-time view of a ProgressBar.
type ProgressReport struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Total      uint64  `json:"total"`
	Finished   uint64  `json:"finished"`
	Percent    float64 `json:"percent"`
	ElapsedSec float64 `json:"elapsed_sec"`

	// ETASec is the estimated wall time left, 0 before any progress.
	ETASec float64 `json:"eta_sec"`
}

// SetFinished sets the number of ticks simulated so far. Values above the
// total are clamped.
func (b *ProgressBar) SetFinished(finished uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finished = min(finished, b.total)
}

// Report returns the current state of the bar.
func (b *ProgressBar) Report() ProgressReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := time.Since(b.startTime).Seconds()
	r := ProgressReport{
		ID:         b.id,
		Name:       b.name,
		Total:      b.total,
		Finished:   b.finished,
		ElapsedSec: elapsed,
	}

	if b.total > 0 {
		r.Percent = 100 * float64(b.finished) / float64(b.total)
	}

	if b.finished > 0 {
		left := float64(b.total - b.finished)
		r.ETASec = elapsed * left / float64(b.finished)
	}

	return r
}
