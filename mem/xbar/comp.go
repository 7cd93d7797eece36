// Package xbar provides a crossbar that connects several requesters to
// several memory modules.
package xbar

import (
	"encoding/json"
	"log"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/tracing"
)

// Stats are the counters of a crossbar.
type Stats struct {
	Requests  uint64 `json:"requests"`
	Responses uint64 `json:"responses"`

	// BlockedCycles counts the cycles in which at least one granted input
	// could not forward its message because the output port was full.
	BlockedCycles uint64 `json:"blocked_cycles"`
}

type route struct {
	req  mem.AccessReq
	port modeling.Port
	src  modeling.RemotePort
}

// Comp is a crossbar. Requests that arrive at the Top ports are routed to the
// Bottom ports by address. Responses return to the requester that sent the
// request.
type Comp struct {
	*modeling.TickingComponent
	modeling.MiddlewareHolder

	topPorts    []modeling.Port
	bottomPorts []modeling.Port
	lowModules  map[modeling.RemotePort]modeling.Port
	bufSize     int

	mapper     mem.AddressToPortMapper
	reqArbiter Arbiter
	rspArbiter Arbiter
	width      int

	routes map[string]route
	stats  Stats
}

// Tick forwards responses and then requests.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

// TopPort returns the i-th requester side port.
func (c *Comp) TopPort(i int) modeling.Port {
	return c.topPorts[i]
}

// NumTopPorts returns the number of requester side ports.
func (c *Comp) NumTopPorts() int {
	return len(c.topPorts)
}

// PlugLowModule creates a Bottom port that carries the requests routed to the
// given remote port. It returns the new port so that it can be connected.
func (c *Comp) PlugLowModule(remote modeling.RemotePort) modeling.Port {
	if p, ok := c.lowModules[remote]; ok {
		return p
	}

	name := indexedName("Bottom", len(c.bottomPorts))
	p := modeling.NewPortWithSide(c, c.bufSize, c.bufSize,
		c.Name()+"."+name, modeling.MemSide)
	c.AddPort(name, p)

	c.bottomPorts = append(c.bottomPorts, p)
	c.lowModules[remote] = p
	c.rspArbiter.AddPort(p)

	return p
}

// SetAddressMapper sets how request addresses select a low module.
func (c *Comp) SetAddressMapper(mapper mem.AddressToPortMapper) {
	c.mapper = mapper
}

// Stats returns a copy of the counters.
func (c *Comp) Stats() Stats {
	return c.stats
}

// Quiescent tells if no message is in flight in the crossbar.
func (c *Comp) Quiescent() bool {
	if len(c.routes) > 0 {
		return false
	}

	for _, p := range c.Ports() {
		if p.NumIncoming() > 0 {
			return false
		}
	}

	return true
}

// State returns the counters of the crossbar.
func (c *Comp) State() any {
	return c.stats
}

// SetState restores the counters of the crossbar.
func (c *Comp) SetState(raw json.RawMessage) error {
	return json.Unmarshal(raw, &c.stats)
}

type middleware struct {
	*Comp
}

func (m *middleware) Tick() bool {
	rspSent, rspBlocked := m.forwardAll(m.rspArbiter, m.forwardRsp)
	reqSent, reqBlocked := m.forwardAll(m.reqArbiter, m.forwardReq)

	if rspBlocked || reqBlocked {
		m.stats.BlockedCycles++
	}

	return rspSent || reqSent
}

// forwardAll serves the granted ports one message at a time in arbitration
// order until the width of the cycle is used up. A port whose message cannot
// leave is skipped for the rest of the cycle. It reports whether anything was
// sent and whether any port was blocked.
func (m *middleware) forwardAll(
	arbiter Arbiter,
	forward func(port modeling.Port, msg modeling.Msg) bool,
) (sent, anyBlocked bool) {
	granted := arbiter.Arbitrate()
	blocked := make(map[modeling.Port]bool)
	numSent := 0

	for numSent < m.width {
		progress := false

		for _, p := range granted {
			if numSent >= m.width {
				break
			}

			if blocked[p] {
				continue
			}

			msg := p.PeekIncoming()
			if msg == nil {
				continue
			}

			if !forward(p, msg) {
				blocked[p] = true
				anyBlocked = true

				continue
			}

			p.RetrieveIncoming()
			numSent++
			progress = true
		}

		if !progress {
			break
		}
	}

	return numSent > 0, anyBlocked
}

func (m *middleware) forwardReq(port modeling.Port, msg modeling.Msg) bool {
	req, ok := msg.(mem.AccessReq)
	if !ok {
		log.Panicf("%s: cannot route message of type %T", m.Name(), msg)
	}

	dst := m.mapper.Find(req.GetAddress())

	out, found := m.lowModules[dst]
	if !found {
		log.Panicf("%s: no bottom port reaches %s", m.Name(), dst)
	}

	fwd := relay(msg, out.AsRemote(), dst)
	if err := out.Send(fwd); err != nil {
		return false
	}

	m.routes[msg.Meta().ID] = route{
		req:  req,
		port: port,
		src:  msg.Meta().Src,
	}
	m.stats.Requests++

	tracing.TraceReqReceive(req, m.Comp)

	return true
}

func (m *middleware) forwardRsp(_ modeling.Port, msg modeling.Msg) bool {
	rsp, ok := msg.(modeling.Rsp)
	if !ok {
		log.Panicf("%s: cannot route message of type %T", m.Name(), msg)
	}

	r, found := m.routes[rsp.GetRspTo()]
	if !found {
		log.Panicf("%s: response to unknown request %s",
			m.Name(), rsp.GetRspTo())
	}

	fwd := relay(msg, r.port.AsRemote(), r.src)
	if err := r.port.Send(fwd); err != nil {
		return false
	}

	delete(m.routes, rsp.GetRspTo())
	m.stats.Responses++

	tracing.TraceReqComplete(r.req, m.Comp)

	return true
}

// relay copies a message so that it leaves from a crossbar port. The copy
// keeps the ID of the original so that responses still match their requests.
func relay(
	msg modeling.Msg,
	src, dst modeling.RemotePort,
) modeling.Msg {
	fwd := msg.Clone()

	meta := fwd.Meta()
	*meta = *msg.Meta()
	meta.Src = src
	meta.Dst = dst

	return fwd
}
