// Package dram provides a memory controller that models banks with open row
// buffers and schedules requests first-ready, first-come-first-served.
package dram

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/tracing"
)

// Stats are the counters of a DRAM controller.
type Stats struct {
	Reads        uint64 `json:"reads"`
	Writes       uint64 `json:"writes"`
	RowHits      uint64 `json:"row_hits"`
	RowEmpty     uint64 `json:"row_empty"`
	RowConflicts uint64 `json:"row_conflicts"`

	// QueueFullCycles counts the cycles in which a request waited at the
	// port because the request queue was full.
	QueueFullCycles uint64 `json:"queue_full_cycles"`
}

// RowHitRate returns the fraction of accesses that found their row open.
func (s Stats) RowHitRate() float64 {
	total := s.RowHits + s.RowEmpty + s.RowConflicts
	if total == 0 {
		return 0
	}

	return float64(s.RowHits) / float64(total)
}

// Comp is a MemController handles read and write requests.
type Comp struct {
	*modeling.TickingComponent
	modeling.MiddlewareHolder

	topPort modeling.Port

	storage    *mem.Storage
	addrOffset uint64
	width      int
	sched      *scheduler
	stats      Stats
}

// Tick updates the controller.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

type middleware struct {
	*Comp
}

// Tick answers finished requests, issues one request to the banks, and takes
// new requests from the top port.
func (m *middleware) Tick() (madeProgress bool) {
	cycle := m.Freq.Cycle(m.CurrentTime())

	for range m.width {
		madeProgress = m.respond(cycle) || madeProgress
	}

	madeProgress = m.issue(cycle) || madeProgress

	for range m.width {
		madeProgress = m.parseTop() || madeProgress
	}

	return madeProgress || len(m.sched.queue) > 0
}

func (m *middleware) parseTop() bool {
	msg := m.topPort.PeekIncoming()
	if msg == nil {
		return false
	}

	if !m.sched.canAccept() {
		m.stats.QueueFullCycles++
		return false
	}

	req, ok := msg.(mem.AccessReq)
	if !ok {
		log.Panicf("cannot handle request of type %T", msg)
	}

	m.topPort.RetrieveIncoming()
	tracing.TraceReqReceive(req, m.Comp)

	m.sched.push(m.sched.newTransaction(req, m.internal(req.GetAddress())))

	return true
}

func (m *middleware) issue(cycle uint64) bool {
	t := m.sched.pick(cycle)
	if t == nil {
		return false
	}

	m.sched.issue(t, cycle)
	tracing.AddTaskStep(tracing.MsgIDAtReceiver(t.req, m.Comp), m.Comp,
		t.state.String())

	return true
}

func (m *middleware) respond(cycle uint64) bool {
	t := m.sched.completed(cycle)
	if t == nil {
		return false
	}

	rsp := m.access(t)
	if err := m.topPort.Send(rsp); err != nil {
		return false
	}

	m.commit(t)
	m.sched.remove(t)
	tracing.TraceReqComplete(t.req, m.Comp)

	return true
}

func (m *middleware) access(t *transaction) modeling.Msg {
	switch req := t.req.(type) {
	case *mem.ReadReq:
		data, err := m.storage.Read(t.addr, req.AccessByteSize)
		if err != nil {
			log.Panic(err)
		}

		return mem.DataReadyRspBuilder{}.
			WithSrc(m.topPort.AsRemote()).
			WithDst(req.Src).
			WithRspTo(req.ID).
			WithData(data).
			Build()
	case *mem.WriteReq:
		return mem.WriteDoneRspBuilder{}.
			WithSrc(m.topPort.AsRemote()).
			WithDst(req.Src).
			WithRspTo(req.ID).
			Build()
	default:
		log.Panicf("cannot handle request of type %T", req)
	}

	return nil
}

func (m *middleware) commit(t *transaction) {
	switch req := t.req.(type) {
	case *mem.ReadReq:
		m.stats.Reads++
	case *mem.WriteReq:
		if err := m.storage.Write(t.addr, req.Data); err != nil {
			log.Panic(err)
		}

		m.stats.Writes++
	}
}

func (c *Comp) internal(addr uint64) uint64 {
	if addr < c.addrOffset {
		log.Panicf("%s: address 0x%x is below the memory range", c.Name(),
			addr)
	}

	return addr - c.addrOffset
}

// Storage returns the backing storage.
func (c *Comp) Storage() *mem.Storage {
	return c.storage
}

// AddrOffset returns the first address that the controller serves.
func (c *Comp) AddrOffset() uint64 {
	return c.addrOffset
}

// Stats returns a copy of the counters.
func (c *Comp) Stats() Stats {
	return c.stats
}

// Quiescent tells if no request is queued.
func (c *Comp) Quiescent() bool {
	return len(c.sched.queue) == 0 && c.topPort.NumIncoming() == 0
}

type dramState struct {
	Data  json.RawMessage `json:"data"`
	Stats Stats           `json:"stats"`
}

// State returns the memory content and the counters. The controller must be
// quiescent.
func (c *Comp) State() any {
	if !c.Quiescent() {
		panic(fmt.Sprintf("dram %s is not quiescent", c.Name()))
	}

	data, err := json.Marshal(c.storage.State())
	if err != nil {
		panic(err)
	}

	return dramState{Data: data, Stats: c.stats}
}

// SetState restores the memory content and the counters. All rows are closed
// after a restore.
func (c *Comp) SetState(raw json.RawMessage) error {
	var s dramState

	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	if err := c.storage.SetState(s.Data); err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}

	c.stats = s.Stats
	c.sched.closeRows()

	return nil
}
