package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/o3sim/sim/timing"
)

type interval struct {
	start, end timing.VTime
}

// BusyTimeTracer measures the time during which a domain is working on at
// least one task accepted by the filter. Overlapping tasks count once.
type BusyTimeTracer struct {
	timeTeller timing.TimeTeller
	filter     TaskFilter

	lock     sync.Mutex
	inflight map[string]timing.VTime
	done     []interval
	busyTime timing.VTime
}

// NewBusyTimeTracer creates a new BusyTimeTracer. A nil filter accepts every
// task.
func NewBusyTimeTracer(
	timeTeller timing.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	if filter == nil {
		filter = acceptAll
	}

	return &BusyTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[string]timing.VTime),
	}
}

// BusyTime returns the busy time of the tasks that have been folded. Tasks
// that overlap a task still in flight are folded when that task ends or when
// TerminateAllTasks is called.
func (t *BusyTimeTracer) BusyTime() timing.VTime {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.busyTime
}

// TerminateAllTasks ends every in-flight task at now and folds all recorded
// intervals.
func (t *BusyTimeTracer) TerminateAllTasks(now timing.VTime) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for id, start := range t.inflight {
		t.done = append(t.done, interval{start: start, end: now})
		delete(t.inflight, id)
	}

	t.fold(timing.MaxVTime)
}

// StartTask records the task start time
func (t *BusyTimeTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflight[task.ID] = t.timeTeller.Now()
	t.lock.Unlock()
}

// StepTask does nothing
func (t *BusyTimeTracer) StepTask(_ Task) {}

// EndTask records the end of the task
func (t *BusyTimeTracer) EndTask(task Task) {
	now := t.timeTeller.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	delete(t.inflight, task.ID)
	t.done = append(t.done, interval{start: start, end: now})

	t.fold(t.earliestInflightStart())
}

func (t *BusyTimeTracer) earliestInflightStart() timing.VTime {
	earliest := timing.MaxVTime

	for _, start := range t.inflight {
		if start < earliest {
			earliest = start
		}
	}

	return earliest
}

// fold merges the completed intervals into disjoint groups and adds the groups
// that end before the limit to the busy time. The other groups may still
// overlap an in-flight task.
func (t *BusyTimeTracer) fold(limit timing.VTime) {
	if len(t.done) == 0 {
		return
	}

	sort.Slice(t.done, func(i, j int) bool {
		return t.done[i].start < t.done[j].start
	})

	groups := []interval{t.done[0]}

	for _, iv := range t.done[1:] {
		last := &groups[len(groups)-1]
		if iv.start <= last.end {
			if iv.end > last.end {
				last.end = iv.end
			}

			continue
		}

		groups = append(groups, iv)
	}

	t.done = t.done[:0]

	for _, g := range groups {
		if g.end < limit {
			t.busyTime += g.end - g.start
			continue
		}

		t.done = append(t.done, g)
	}
}
