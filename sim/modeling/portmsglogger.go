package modeling

import (
	"log"
	"reflect"

	"github.com/sarchlab/o3sim/sim/hooking"
	"github.com/sarchlab/o3sim/sim/timing"
)

// PortMsgLogger is a hook that writes a CSV line each time a message is sent
// from or received by a port:
// tick,port,send|recv,src,dst,msg type,msg id.
// Retrievals from the port buffers are not logged.
type PortMsgLogger struct {
	logger     *log.Logger
	timeTeller timing.TimeTeller
}

// NewPortMsgLogger creates a PortMsgLogger that writes to the logger.
func NewPortMsgLogger(
	logger *log.Logger,
	timeTeller timing.TimeTeller,
) *PortMsgLogger {
	return &PortMsgLogger{
		logger:     logger,
		timeTeller: timeTeller,
	}
}

// Func logs the message.
func (h *PortMsgLogger) Func(ctx hooking.HookCtx) {
	var dir string

	switch ctx.Pos {
	case HookPosPortMsgSend:
		dir = "send"
	case HookPosPortMsgRecvd:
		dir = "recv"
	default:
		return
	}

	msg, ok := ctx.Item.(Msg)
	if !ok {
		return
	}

	port, ok := ctx.Domain.(Port)
	if !ok {
		return
	}

	meta := msg.Meta()
	h.logger.Printf("%d,%s,%s,%s,%s,%s,%s",
		h.timeTeller.Now(), port.Name(), dir,
		meta.Src, meta.Dst, msgTypeName(msg), meta.ID)
}

func msgTypeName(msg Msg) string {
	t := reflect.TypeOf(msg)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Name()
}
