package timing

import (
	"github.com/sarchlab/o3sim/sim/hooking"
	"github.com/sarchlab/o3sim/sim/id"
)

// Priority orders events that happen at the same time. Lower values are
// handled first. Events with the same time and priority are handled in the
// order they are scheduled.
type Priority int

// Common priorities.
const (
	PriorityPrimary Priority = 0

	// PrioritySecondary events are handled after all same-time primary
	// events are handled. Connections use it to deliver messages after the
	// components of the same cycle have ticked.
	PrioritySecondary Priority = 10
)

// An Event is something going to happen in the future.
type Event interface {
	// ID uniquely identifies the event. Cancellation is keyed by ID.
	ID() string

	// Return the time that the event should happen
	Time() VTime

	// Returns the handler that can should handle the event
	Handler() Handler

	// Priority breaks ties between events with the same time.
	Priority() Priority
}

// HookPosBeforeEvent is a hook position that triggers before handling an event.
var HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent is a hook position that triggers after handling an event.
var HookPosAfterEvent = &hooking.HookPos{Name: "AfterEvent"}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	id       string
	time     VTime
	handler  Handler
	priority Priority
}

// MakeEventBase creates a new EventBase
func MakeEventBase(t VTime, handler Handler) EventBase {
	return EventBase{
		id:      id.Generate(),
		time:    t,
		handler: handler,
	}
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTime, handler Handler) *EventBase {
	e := MakeEventBase(t, handler)
	return &e
}

// ID returns the ID of the event.
func (e EventBase) ID() string {
	return e.id
}

// Time return the time that the event is going to happen
func (e EventBase) Time() VTime {
	return e.time
}

// Handler returns the handler to handle the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// Priority returns the priority of the event.
func (e EventBase) Priority() Priority {
	return e.priority
}

// SetPriority changes the priority of an event that is not yet scheduled.
func (e *EventBase) SetPriority(p Priority) {
	e.priority = p
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}

// CallbackEvent is an event that runs a function when handled.
type CallbackEvent struct {
	EventBase
	Callback func(now VTime)
}

// NewCallbackEvent creates an event that calls the callback at time t.
func NewCallbackEvent(t VTime, callback func(now VTime)) *CallbackEvent {
	evt := &CallbackEvent{Callback: callback}
	evt.EventBase = MakeEventBase(t, callbackHandler{})

	return evt
}

type callbackHandler struct{}

func (callbackHandler) Handle(e Event) error {
	evt := e.(*CallbackEvent)
	evt.Callback(evt.Time())

	return nil
}
