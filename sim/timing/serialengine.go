package timing

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/o3sim/sim/hooking"
)

// A SerialEngine is an Engine that always run events one after another.
type SerialEngine struct {
	hooking.HookableBase

	timeLock sync.RWMutex
	time     VTime
	queue    EventQueue

	halted    bool
	haltLock  sync.Mutex
	pauseLock sync.Mutex

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	e := new(SerialEngine)
	e.queue = NewOrderedEventQueue()

	return e
}

// NewSerialEngineWithQueue creates a SerialEngine that uses the given queue.
func NewSerialEngineWithQueue(q EventQueue) *SerialEngine {
	e := new(SerialEngine)
	e.queue = q

	return e
}

// Name returns the name of the engine.
func (e *SerialEngine) Name() string {
	return "SerialEngine"
}

// Schedule register an event to be happen in the future
func (e *SerialEngine) Schedule(evt Event) {
	now := e.readNow()
	if evt.Time() < now {
		panic(&InvalidTimeError{
			Now:       now,
			EventTime: evt.Time(),
			EventType: reflect.TypeOf(evt).String(),
		})
	}

	e.queue.Push(evt)
}

// Cancel removes a pending event from the queue.
func (e *SerialEngine) Cancel(evt Event) error {
	if !e.queue.Remove(evt.ID()) {
		return fmt.Errorf("%w: %s", ErrEventNotPending, evt.ID())
	}

	return nil
}

// Now returns the current time.
func (e *SerialEngine) Now() VTime {
	return e.readNow()
}

// PendingEvents returns the number of events in the queue.
func (e *SerialEngine) PendingEvents() int {
	return e.queue.Len()
}

// SetTime moves the current time. It is only used when restoring a
// checkpoint into an engine whose queue is empty.
func (e *SerialEngine) SetTime(t VTime) {
	if e.queue.Len() > 0 {
		panic("cannot set time while events are pending")
	}

	e.writeNow(t)
}

func (e *SerialEngine) readNow() VTime {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()

	return t
}

func (e *SerialEngine) writeNow(t VTime) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// Run processes all the events scheduled in the SerialEngine
func (e *SerialEngine) Run() error {
	_, err := e.RunUntil(MaxVTime)
	return err
}

// RunUntil processes events until the queue is empty, the engine is halted,
// or the next event is later than the limit.
func (e *SerialEngine) RunUntil(limit VTime) (StopReason, error) {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	e.setHalted(false)

	for {
		if e.isHalted() {
			return StopHalted, nil
		}

		next := e.queue.Peek()
		if next == nil {
			return StopQueueEmpty, nil
		}

		if next.Time() > limit {
			e.writeNow(limit)
			return StopTimeLimit, nil
		}

		err := e.handleNext()
		if err != nil {
			return StopHalted, err
		}
	}
}

func (e *SerialEngine) handleNext() error {
	e.pauseLock.Lock()
	defer e.pauseLock.Unlock()

	evt := e.queue.Pop()
	now := e.readNow()

	if evt.Time() < now {
		panic(&InvalidTimeError{
			Now:       now,
			EventTime: evt.Time(),
			EventType: reflect.TypeOf(evt).String(),
		})
	}

	e.writeNow(evt.Time())

	hookCtx := hooking.HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	err := evt.Handler().Handle(evt)

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)

	return err
}

// Halt stops the current run after the event being handled.
func (e *SerialEngine) Halt() {
	e.setHalted(true)
}

func (e *SerialEngine) setHalted(v bool) {
	e.haltLock.Lock()
	e.halted = v
	e.haltLock.Unlock()
}

func (e *SerialEngine) isHalted() bool {
	e.haltLock.Lock()
	defer e.haltLock.Unlock()

	return e.halted
}

// Pause prevents the SerialEngine to trigger more events.
func (e *SerialEngine) Pause() {
	e.pauseLock.Lock()
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.pauseLock.Unlock()
}

// RegisterSimulationEndHandler invokes all the registered simulation end
// handler.
func (e *SerialEngine) RegisterSimulationEndHandler(handler SimulationEndHandler) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler.
func (e *SerialEngine) Finished() {
	for _, h := range e.simulationEndHandlers {
		h.Handle(e.readNow())
	}
}
