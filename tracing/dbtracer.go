package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/o3sim/datarecording"
	"github.com/sarchlab/o3sim/sim/timing"
)

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime uint64
	EndTime   uint64
}

type stepTableEntry struct {
	TaskID string
	What   string
	Time   uint64
}

// DBTracer stores the tasks into a data recorder. Only tasks that overlap the
// time range are stored.
type DBTracer struct {
	timeTeller timing.TimeTeller
	backend    datarecording.DataRecorder

	lock               sync.Mutex
	startTime, endTime timing.VTime
	tracingTasks       map[string]Task
	terminated         bool
}

// NewDBTracer creates a new DBTracer. Unfinished tasks are written with the
// end time of the simulation when the program exits.
func NewDBTracer(
	timeTeller timing.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable("trace", taskTableEntry{})
	dataRecorder.CreateTable("trace_steps", stepTableEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(t.Terminate)

	return t
}

// SetTimeRange limits the tracing to tasks that overlap [startTime, endTime].
// A zero endTime means no upper limit.
func (t *DBTracer) SetTimeRange(startTime, endTime timing.VTime) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

// StepTask records a step of a task being traced.
func (t *DBTracer) StepTask(task Task) {
	now := t.timeTeller.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.tracingTasks[task.ID]; !ok || len(task.Steps) == 0 {
		return
	}

	t.backend.InsertData("trace_steps", stepTableEntry{
		TaskID: task.ID,
		What:   task.Steps[0].What,
		Time:   uint64(now),
	})
}

// EndTask writes the task.
func (t *DBTracer) EndTask(task Task) {
	now := t.timeTeller.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	if now < t.startTime {
		return
	}

	original.EndTime = now
	t.write(original)
}

// Terminate writes the tasks that are still in flight and flushes the data
// recorder.
func (t *DBTracer) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.terminated {
		return
	}

	t.terminated = true
	now := t.timeTeller.Now()

	for _, task := range t.tracingTasks {
		task.EndTime = now
		t.write(task)
	}

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}

func (t *DBTracer) write(task Task) {
	t.backend.InsertData("trace", taskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: uint64(task.StartTime),
		EndTime:   uint64(task.EndTime),
	})
}
