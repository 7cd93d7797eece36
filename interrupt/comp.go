// Package interrupt provides an interrupt controller. Software raises
// interrupts through a memory-mapped register window, other controllers
// raise them with InterruptReq messages, and the CPU takes them with
// Acknowledge.
package interrupt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/tracing"
)

// Offsets of the registers in the PIO window.
const (
	// RegRaise raises the written vector. Reading it returns the number of
	// pending interrupts.
	RegRaise = 0x0

	// RegSend sends the written vector to the remote controller through the
	// IntRequestor port.
	RegSend = 0x8

	// PIOSize is the size of the register window.
	PIOSize = 0x10
)

// A Listener is told when an interrupt becomes pending, so that a sleeping
// CPU can start ticking again.
type Listener interface {
	InterruptRaised()
}

// Stats are the counters of an interrupt controller.
type Stats struct {
	Raised       uint64 `json:"raised"`
	Acknowledged uint64 `json:"acknowledged"`
	Sent         uint64 `json:"sent"`
	Received     uint64 `json:"received"`
}

// Comp is an interrupt controller.
type Comp struct {
	*modeling.TickingComponent
	modeling.MiddlewareHolder

	pioPort       modeling.Port
	requestorPort modeling.Port
	responderPort modeling.Port

	pioBase      uint64
	vectorBase   uint64
	vectorStride uint64
	remote       modeling.RemotePort

	pending   []int
	outbound  []int
	listeners []Listener
	stats     Stats
}

// Tick updates the controller.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

// AddListener registers a listener for raised interrupts.
func (c *Comp) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

// SetRemote sets the controller that RegSend writes reach.
func (c *Comp) SetRemote(port modeling.RemotePort) {
	c.remote = port
}

// PIOBase returns the first address of the register window.
func (c *Comp) PIOBase() uint64 {
	return c.pioBase
}

// Pending tells if an interrupt waits to be taken.
func (c *Comp) Pending() bool {
	return len(c.pending) > 0
}

// NumPending returns the number of interrupts waiting to be taken.
func (c *Comp) NumPending() int {
	return len(c.pending)
}

// Acknowledge takes the oldest pending interrupt and returns its vector.
func (c *Comp) Acknowledge() (vector int, ok bool) {
	if len(c.pending) == 0 {
		return 0, false
	}

	vector = c.pending[0]
	c.pending = c.pending[1:]
	c.stats.Acknowledged++

	return vector, true
}

// HandlerAddress returns the entry of the handler of a vector.
func (c *Comp) HandlerAddress(vector int) uint64 {
	return c.vectorBase + uint64(vector)*c.vectorStride
}

// Stats returns a copy of the counters.
func (c *Comp) Stats() Stats {
	return c.stats
}

// Quiescent tells if no message waits in the controller.
func (c *Comp) Quiescent() bool {
	if len(c.outbound) > 0 {
		return false
	}

	for _, p := range c.Ports() {
		if p.NumIncoming() > 0 {
			return false
		}
	}

	return true
}

type controllerState struct {
	Pending []int `json:"pending"`
	Stats   Stats `json:"stats"`
}

// State returns the pending vectors and the counters.
func (c *Comp) State() any {
	if !c.Quiescent() {
		panic(fmt.Sprintf("interrupt controller %s is not quiescent",
			c.Name()))
	}

	return controllerState{
		Pending: append([]int{}, c.pending...),
		Stats:   c.stats,
	}
}

// SetState restores the pending vectors and the counters.
func (c *Comp) SetState(raw json.RawMessage) error {
	var s controllerState
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	c.pending = s.Pending
	c.stats = s.Stats

	return nil
}

func (c *Comp) raise(vector int) {
	c.pending = append(c.pending, vector)
	c.stats.Raised++

	for _, l := range c.listeners {
		l.InterruptRaised()
	}
}

type middleware struct {
	*Comp
}

func (m *middleware) Tick() bool {
	madeProgress := false

	madeProgress = m.sendOutbound() || madeProgress
	madeProgress = m.drainRequestor() || madeProgress
	madeProgress = m.receiveInterrupt() || madeProgress
	madeProgress = m.handlePIO() || madeProgress

	return madeProgress
}

func (m *middleware) handlePIO() bool {
	msg := m.pioPort.PeekIncoming()
	if msg == nil {
		return false
	}

	req, ok := msg.(mem.AccessReq)
	if !ok {
		log.Panicf("%s: cannot handle message of type %T", m.Name(), msg)
	}

	offset := req.GetAddress() - m.pioBase
	if req.GetAddress() < m.pioBase || offset >= PIOSize {
		log.Panicf("%s: address 0x%x is outside the register window",
			m.Name(), req.GetAddress())
	}

	var rsp modeling.Msg

	switch r := req.(type) {
	case *mem.ReadReq:
		rsp = m.readRegister(r, offset)
	case *mem.WriteReq:
		rsp = mem.WriteDoneRspBuilder{}.
			WithSrc(m.pioPort.AsRemote()).
			WithDst(r.Src).
			WithRspTo(r.ID).
			Build()
	default:
		log.Panicf("%s: cannot handle request of type %T", m.Name(), req)
	}

	if err := m.pioPort.Send(rsp); err != nil {
		return false
	}

	m.pioPort.RetrieveIncoming()
	tracing.TraceReqReceive(req, m.Comp)

	if w, ok := req.(*mem.WriteReq); ok {
		m.writeRegister(w, offset)
	}

	tracing.TraceReqComplete(req, m.Comp)

	return true
}

func (m *middleware) readRegister(
	r *mem.ReadReq,
	offset uint64,
) modeling.Msg {
	var value uint64
	if offset == RegRaise {
		value = uint64(len(m.pending))
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)

	data := make([]byte, r.AccessByteSize)
	copy(data, buf)

	return mem.DataReadyRspBuilder{}.
		WithSrc(m.pioPort.AsRemote()).
		WithDst(r.Src).
		WithRspTo(r.ID).
		WithData(data).
		Build()
}

func (m *middleware) writeRegister(w *mem.WriteReq, offset uint64) {
	buf := make([]byte, 8)
	copy(buf, w.Data)
	vector := int(binary.LittleEndian.Uint64(buf))

	switch offset {
	case RegRaise:
		m.raise(vector)
	case RegSend:
		if m.remote == "" {
			log.Panicf("%s: no remote controller to send to", m.Name())
		}

		m.outbound = append(m.outbound, vector)
	}
}

func (m *middleware) sendOutbound() bool {
	if len(m.outbound) == 0 {
		return false
	}

	req := InterruptReqBuilder{}.
		WithSrc(m.requestorPort.AsRemote()).
		WithDst(m.remote).
		WithVector(m.outbound[0]).
		Build()

	if err := m.requestorPort.Send(req); err != nil {
		return false
	}

	m.outbound = m.outbound[1:]
	m.stats.Sent++

	return true
}

func (m *middleware) drainRequestor() bool {
	return m.requestorPort.RetrieveIncoming() != nil
}

func (m *middleware) receiveInterrupt() bool {
	msg := m.responderPort.PeekIncoming()
	if msg == nil {
		return false
	}

	req, ok := msg.(*InterruptReq)
	if !ok {
		log.Panicf("%s: cannot handle message of type %T", m.Name(), msg)
	}

	rsp := modeling.GeneralRspBuilder{}.
		WithSrc(m.responderPort.AsRemote()).
		WithDst(req.Src).
		WithOriginalReq(req).
		Build()

	if err := m.responderPort.Send(rsp); err != nil {
		return false
	}

	m.responderPort.RetrieveIncoming()
	m.stats.Received++
	m.raise(req.Vector)

	return true
}
