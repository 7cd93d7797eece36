package tracing

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TaskPrinter can print tasks with a format.
type TaskPrinter interface {
	Print(task Task)
}

type writerTaskPrinter struct {
	w io.Writer
}

func (p writerTaskPrinter) Print(task Task) {
	fmt.Fprintf(p.w, "%s-%s@%s\n", task.Kind, task.What, task.Where)
}

// BackTraceTracer keeps the tasks that have not completed, so that the chain
// of parent tasks of a stuck task can be dumped.
type BackTraceTracer struct {
	printer      TaskPrinter
	lock         sync.Mutex
	tracingTasks map[string]Task
}

// NewBackTraceTracer creates a new BackTraceTracer. A nil printer prints to
// the standard error.
func NewBackTraceTracer(printer TaskPrinter) *BackTraceTracer {
	if printer == nil {
		printer = writerTaskPrinter{w: os.Stderr}
	}

	return &BackTraceTracer{
		printer:      printer,
		tracingTasks: make(map[string]Task),
	}
}

// StartTask records the task.
func (t *BackTraceTracer) StartTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.tracingTasks[task.ID] = task
}

// StepTask does nothing.
func (t *BackTraceTracer) StepTask(_ Task) {}

// EndTask forgets the task.
func (t *BackTraceTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	delete(t.tracingTasks, task.ID)
}

// InflightTasks returns the tasks that have not ended.
func (t *BackTraceTracer) InflightTasks() []Task {
	t.lock.Lock()
	defer t.lock.Unlock()

	tasks := make([]Task, 0, len(t.tracingTasks))
	for _, task := range t.tracingTasks {
		tasks = append(tasks, task)
	}

	return tasks
}

// DumpBackTrace prints the task and then its in-flight ancestors.
func (t *BackTraceTracer) DumpBackTrace(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for {
		t.printer.Print(task)

		parent, ok := t.tracingTasks[task.ParentID]
		if task.ParentID == "" || !ok {
			return
		}

		task = parent
	}
}
