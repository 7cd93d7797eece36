package tracing

import (
	"sync"
)

// StepCountTracer counts how many times each step is reached, and how many
// tasks reach each step at least once.
type StepCountTracer struct {
	filter TaskFilter

	lock              sync.Mutex
	inflightSteps     map[string]map[string]bool
	stepNames         []string
	stepCount         map[string]uint64
	taskWithStepCount map[string]uint64
}

// NewStepCountTracer creates a new StepCountTracer. A nil filter accepts every
// task.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	if filter == nil {
		filter = acceptAll
	}

	return &StepCountTracer{
		filter:            filter,
		inflightSteps:     make(map[string]map[string]bool),
		stepCount:         make(map[string]uint64),
		taskWithStepCount: make(map[string]uint64),
	}
}

// GetStepNames returns all the step names collected, in the order they are
// first seen.
func (t *StepCountTracer) GetStepNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.stepNames...)
}

// GetStepCount returns the number of steps that is recorded with a certain step
// name.
func (t *StepCountTracer) GetStepCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stepCount[stepName]
}

// GetTaskCount returns the number of tasks that is recorded to have a certain
// step with a given name.
func (t *StepCountTracer) GetTaskCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskWithStepCount[stepName]
}

// StartTask starts tracking the steps of a task.
func (t *StepCountTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightSteps[task.ID] = make(map[string]bool)
	t.lock.Unlock()
}

// StepTask counts the step. Steps of tasks that are not tracked still count
// toward the step count but not toward the task count.
func (t *StepCountTracer) StepTask(task Task) {
	if len(task.Steps) == 0 {
		return
	}

	what := task.Steps[0].What

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, seen := t.stepCount[what]; !seen {
		t.stepNames = append(t.stepNames, what)
	}

	t.stepCount[what]++

	steps, ok := t.inflightSteps[task.ID]
	if !ok || steps[what] {
		return
	}

	steps[what] = true
	t.taskWithStepCount[what]++
}

// EndTask stops tracking the task.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.inflightSteps, task.ID)
	t.lock.Unlock()
}
