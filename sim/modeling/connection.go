package modeling

import (
	"errors"
	"fmt"

	"github.com/sarchlab/o3sim/sim/hooking"
	"github.com/sarchlab/o3sim/sim/naming"
)

// SendError marks a failure send or receive
type SendError struct{}

// NewSendError creates a SendError
func NewSendError() *SendError {
	e := new(SendError)
	return e
}

func (e *SendError) Error() string {
	return "send failed, buffer is full"
}

// A Connection is responsible for delivering messages to its destination.
type Connection interface {
	naming.Named
	hooking.Hookable

	PlugIn(port Port)
	NotifyAvailable(port Port)
	NotifySend()
	Ports() []Port
}

// HookPosConnStartTrans marks a connection start to transmit a message.
var HookPosConnStartTrans = &hooking.HookPos{Name: "Conn Start Trans"}

// HookPosConnDeliver marks a connection delivered a message.
var HookPosConnDeliver = &hooking.HookPos{Name: "Conn Deliver"}

// ErrPortAlreadyBound is returned when connecting a port that already has a
// connection.
var ErrPortAlreadyBound = errors.New("port already bound")

// ErrIncompatiblePorts is returned when the two ports cannot talk to each
// other, for example two ports that both issue requests.
var ErrIncompatiblePorts = errors.New("incompatible ports")

// Connect binds exactly two ports with the connection. The connection must not
// carry any port yet. Nothing is changed if an error is returned.
func Connect(conn Connection, a, b Port) error {
	if len(conn.Ports()) != 0 {
		return fmt.Errorf("%w: connection %s is already in use",
			ErrPortAlreadyBound, conn.Name())
	}

	if a == b {
		return fmt.Errorf("%w: cannot connect %s to itself",
			ErrIncompatiblePorts, a.Name())
	}

	for _, p := range []Port{a, b} {
		if p.Connection() != nil {
			return fmt.Errorf("%w: %s is connected to %s",
				ErrPortAlreadyBound, p.Name(), p.Connection().Name())
		}
	}

	if !a.Side().CanConnect(b.Side()) {
		return fmt.Errorf("%w: %s (%s) and %s (%s)",
			ErrIncompatiblePorts, a.Name(), a.Side(), b.Name(), b.Side())
	}

	conn.PlugIn(a)
	conn.PlugIn(b)

	return nil
}
