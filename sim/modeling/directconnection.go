package modeling

import (
	"fmt"

	"github.com/sarchlab/o3sim/sim/hooking"
	"github.com/sarchlab/o3sim/sim/timing"
)

type inflightMsg struct {
	msg     Msg
	readyAt timing.VTime
}

type directConnectionEnd struct {
	port     Port
	inflight []inflightMsg
}

// DirectConnection connects ports and delivers messages in order after a fixed
// number of cycles.
type DirectConnection struct {
	*TickingComponent

	latency    int
	bufSize    int
	nextPortID int
	ports      []Port
	ends       map[RemotePort]*directConnectionEnd
}

// PlugIn marks the port connects to this DirectConnection.
func (c *DirectConnection) PlugIn(port Port) {
	c.Lock()
	defer c.Unlock()

	c.ports = append(c.ports, port)
	c.ends[port.AsRemote()] = &directConnectionEnd{port: port}

	port.SetConnection(c)
}

// Ports returns the ports plugged into the connection.
func (c *DirectConnection) Ports() []Port {
	c.Lock()
	defer c.Unlock()

	return append([]Port(nil), c.ports...)
}

// NotifyAvailable is called by a port to notify that the connection can
// deliver to the port again.
func (c *DirectConnection) NotifyAvailable(_ Port) {
	c.TickNow()
}

// NotifySend is called by a port to notify that the connection can start
// to tick now
func (c *DirectConnection) NotifySend() {
	c.TickNow()
}

// Tick moves messages from the outgoing buffers of the ports into the link
// and delivers the messages whose latency has passed.
func (c *DirectConnection) Tick() bool {
	madeProgress := false
	waiting := false
	now := c.CurrentTime()

	for i := 0; i < len(c.ports); i++ {
		portID := (i + c.nextPortID) % len(c.ports)
		end := c.ends[c.ports[portID].AsRemote()]

		madeProgress = c.forwardMany(end, now) || madeProgress
		madeProgress = c.pullMany(end, now) || madeProgress
		madeProgress = c.forwardMany(end, now) || madeProgress

		if len(end.inflight) > 0 {
			waiting = true
		}
	}

	if len(c.ports) > 0 {
		c.nextPortID = (c.nextPortID + 1) % len(c.ports)
	}

	return madeProgress || waiting
}

func (c *DirectConnection) pullMany(
	end *directConnectionEnd,
	now timing.VTime,
) bool {
	madeProgress := false

	for len(end.inflight) < c.bufSize {
		if end.port.PeekOutgoing() == nil {
			break
		}

		msg := end.port.RetrieveOutgoing()
		end.inflight = append(end.inflight, inflightMsg{
			msg:     msg,
			readyAt: c.Freq.NCyclesLater(c.latency, now),
		})

		c.InvokeHook(hooking.HookCtx{
			Domain: c,
			Pos:    HookPosConnStartTrans,
			Item:   msg,
		})

		madeProgress = true
	}

	return madeProgress
}

func (c *DirectConnection) forwardMany(
	end *directConnectionEnd,
	now timing.VTime,
) bool {
	madeProgress := false

	for len(end.inflight) > 0 {
		head := end.inflight[0]
		if head.readyAt > now {
			break
		}

		dst, found := c.ends[head.msg.Meta().Dst]
		if !found {
			panic(fmt.Sprintf("%s: destination %s is not connected",
				c.Name(), head.msg.Meta().Dst))
		}

		if err := dst.port.Deliver(head.msg); err != nil {
			break
		}

		c.InvokeHook(hooking.HookCtx{
			Domain: c,
			Pos:    HookPosConnDeliver,
			Item:   head.msg,
		})

		end.inflight = end.inflight[1:]
		madeProgress = true
	}

	return madeProgress
}

// DirectConnectionBuilder builds DirectConnections.
type DirectConnectionBuilder struct {
	engine  timing.Engine
	freq    timing.Freq
	latency int
	bufSize int
}

// MakeDirectConnectionBuilder creates a builder with a 1 GHz clock, no extra
// latency, and room for 4 messages in flight from each port.
func MakeDirectConnectionBuilder() DirectConnectionBuilder {
	return DirectConnectionBuilder{
		freq:    1 * timing.GHz,
		bufSize: 4,
	}
}

// WithEngine sets the engine.
func (b DirectConnectionBuilder) WithEngine(
	e timing.Engine,
) DirectConnectionBuilder {
	b.engine = e
	return b
}

// WithFreq sets the frequency that the connection works at.
func (b DirectConnectionBuilder) WithFreq(
	f timing.Freq,
) DirectConnectionBuilder {
	b.freq = f
	return b
}

// WithLatency sets the number of cycles a message spends in the connection.
func (b DirectConnectionBuilder) WithLatency(
	cycles int,
) DirectConnectionBuilder {
	b.latency = cycles
	return b
}

// WithBufferSize sets the number of messages that can be in flight from each
// port.
func (b DirectConnectionBuilder) WithBufferSize(
	n int,
) DirectConnectionBuilder {
	b.bufSize = n
	return b
}

// Build creates a new DirectConnection.
func (b DirectConnectionBuilder) Build(name string) *DirectConnection {
	if b.engine == nil {
		panic("engine is not set")
	}

	c := new(DirectConnection)
	c.TickingComponent = NewSecondaryTickingComponent(name, b.engine, b.freq, c)
	c.latency = b.latency
	c.bufSize = b.bufSize
	c.ends = make(map[RemotePort]*directConnectionEnd)

	return c
}
