package timing

import (
	"log"
	"reflect"
	"strings"

	"github.com/sarchlab/o3sim/sim/hooking"
)

type named interface {
	Name() string
}

// EventLogger is a hook that writes one line per dispatched event:
// "<tick>, <event type> -> <handler>".
type EventLogger struct {
	logger *log.Logger
	prefix string
}

// NewEventLogger creates an EventLogger that writes to the logger.
func NewEventLogger(logger *log.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// WithHandlerPrefix keeps only the events whose handler name starts with the
// prefix.
func (h *EventLogger) WithHandlerPrefix(prefix string) *EventLogger {
	h.prefix = prefix
	return h
}

// Func logs the event before it is handled.
func (h *EventLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	handler := handlerName(evt.Handler())
	if !strings.HasPrefix(handler, h.prefix) {
		return
	}

	h.logger.Printf("%d, %s -> %s", evt.Time(), reflect.TypeOf(evt), handler)
}

func handlerName(handler Handler) string {
	if n, ok := handler.(named); ok {
		return n.Name()
	}

	return reflect.TypeOf(handler).String()
}
