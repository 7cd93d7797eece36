package tracing

import (
	"sync"

	"github.com/sarchlab/o3sim/sim/timing"
)

// LatencyTracer measures how long the tasks accepted by its filter take. If
// two tasks overlap, both durations count in full.
type LatencyTracer struct {
	timeTeller timing.TimeTeller
	filter     TaskFilter

	lock      sync.Mutex
	inflight  map[string]timing.VTime
	count     uint64
	totalTime timing.VTime
	maxTime   timing.VTime
}

// NewLatencyTracer creates a new LatencyTracer. A nil filter accepts every
// task.
func NewLatencyTracer(
	timeTeller timing.TimeTeller,
	filter TaskFilter,
) *LatencyTracer {
	if filter == nil {
		filter = acceptAll
	}

	return &LatencyTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[string]timing.VTime),
	}
}

// TotalTime returns the sum of the durations of the completed tasks.
func (t *LatencyTracer) TotalTime() timing.VTime {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.totalTime
}

// AverageTime returns the mean duration of the completed tasks.
func (t *LatencyTracer) AverageTime() float64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.count == 0 {
		return 0
	}

	return float64(t.totalTime) / float64(t.count)
}

// MaxTime returns the longest duration among the completed tasks.
func (t *LatencyTracer) MaxTime() timing.VTime {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.maxTime
}

// TotalCount returns the number of completed tasks.
func (t *LatencyTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count
}

// InflightCount returns the number of tasks that started but did not end.
func (t *LatencyTracer) InflightCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.inflight)
}

// StartTask records the task start time
func (t *LatencyTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflight[task.ID] = t.timeTeller.Now()
	t.lock.Unlock()
}

// StepTask does nothing
func (t *LatencyTracer) StepTask(_ Task) {}

// EndTask records the end of the task
func (t *LatencyTracer) EndTask(task Task) {
	now := t.timeTeller.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	d := now - start
	t.totalTime += d
	t.count++

	if d > t.maxTime {
		t.maxTime = d
	}

	delete(t.inflight, task.ID)
}
