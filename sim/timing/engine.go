package timing

import (
	"errors"
	"fmt"

	"github.com/sarchlab/o3sim/sim/hooking"
)

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() VTime
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	// Schedule registers an event. Scheduling an event earlier than the
	// current time panics with an *InvalidTimeError.
	Schedule(e Event)

	// Cancel removes a pending event. It returns ErrEventNotPending if the
	// event has already been handled or was never scheduled.
	Cancel(e Event) error
}

// StopReason tells why a run of the engine returned.
type StopReason int

// All the reasons for the engine to stop running.
const (
	StopQueueEmpty StopReason = iota
	StopHalted
	StopTimeLimit
)

func (r StopReason) String() string {
	switch r {
	case StopQueueEmpty:
		return "event queue empty"
	case StopHalted:
		return "halted"
	case StopTimeLimit:
		return "time limit reached"
	default:
		return "unknown"
	}
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	hooking.Hookable
	EventScheduler

	// Run will process all the events until the simulation finishes
	Run() error

	// RunUntil processes events no later than the limit. If the run stops
	// because the next event is later than the limit, the current time
	// moves to the limit.
	RunUntil(limit VTime) (StopReason, error)

	// Halt stops the run after the event that is being handled.
	Halt()

	// Pause will pause the simulation until continue is called.
	Pause()

	// Continue will continue the paused simulation
	Continue()

	// PendingEvents returns the number of events waiting in the queue.
	PendingEvents() int
}

// ErrEventNotPending is returned when cancelling an event that is not in the
// queue.
var ErrEventNotPending = errors.New("event is not pending")

// InvalidTimeError reports an attempt to schedule an event in the past. It
// indicates a bug in a component and is raised with a panic.
type InvalidTimeError struct {
	Now       VTime
	EventTime VTime
	EventType string
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf(
		"cannot schedule %s at tick %d, current tick is %d",
		e.EventType, e.EventTime, e.Now,
	)
}

// SimulationEndHandler is a handler that is called after the simulation ends.
type SimulationEndHandler interface {
	Handle(now VTime)
}
