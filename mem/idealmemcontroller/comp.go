// Package idealmemcontroller provides a memory controller that answers every
// request after a fixed number of cycles.
package idealmemcontroller

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
	"github.com/sarchlab/o3sim/tracing"
)

type respondEvent struct {
	timing.EventBase
	req mem.AccessReq
}

func newRespondEvent(
	t timing.VTime,
	handler timing.Handler,
	req mem.AccessReq,
) *respondEvent {
	evt := &respondEvent{req: req}
	evt.EventBase = timing.MakeEventBase(t, handler)

	return evt
}

// Stats are the counters of a memory controller.
type Stats struct {
	Reads     uint64 `json:"reads"`
	Writes    uint64 `json:"writes"`
	BytesRead uint64 `json:"bytes_read"`
	BytesWrit uint64 `json:"bytes_written"`
}

// A Comp is an ideal memory controller that can perform read and write.
// It always responds to a request in a fixed number of cycles. There is no
// limitation on the concurrency of this unit; only the number of requests
// accepted per cycle is bounded.
type Comp struct {
	*modeling.TickingComponent

	topPort modeling.Port
	storage *mem.Storage
	latency int
	width   int

	// addrOffset is subtracted from request addresses before accessing the
	// storage.
	addrOffset uint64

	inflight int
	ready    []mem.AccessReq
	stats    Stats
}

// Handle defines how the Comp handles event
func (c *Comp) Handle(e timing.Event) error {
	switch e := e.(type) {
	case *respondEvent:
		c.inflight--
		c.ready = append(c.ready, e.req)
		c.TickNow()
	case timing.TickEvent:
		return c.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of %T", e)
	}

	return nil
}

// Tick sends the responses that are ready and accepts new requests.
func (c *Comp) Tick() bool {
	madeProgress := false

	for range c.width {
		madeProgress = c.respond() || madeProgress
	}

	for range c.width {
		madeProgress = c.accept() || madeProgress
	}

	return madeProgress
}

func (c *Comp) accept() bool {
	msg := c.topPort.RetrieveIncoming()
	if msg == nil {
		return false
	}

	req, ok := msg.(mem.AccessReq)
	if !ok {
		log.Panicf("cannot handle request of type %T", msg)
	}

	tracing.TraceReqReceive(req, c)

	now := c.CurrentTime()
	c.inflight++
	c.Engine.Schedule(newRespondEvent(
		c.Freq.NCyclesLater(c.latency, now), c, req))

	return true
}

// respond sends the oldest ready response. Responses leave in the order
// their requests arrived.
func (c *Comp) respond() bool {
	if len(c.ready) == 0 {
		return false
	}

	req := c.ready[0]

	rsp := c.access(req)
	if err := c.topPort.Send(rsp); err != nil {
		return false
	}

	c.commit(req)
	c.ready = c.ready[1:]
	tracing.TraceReqComplete(req, c)

	return true
}

func (c *Comp) access(req mem.AccessReq) modeling.Msg {
	switch req := req.(type) {
	case *mem.ReadReq:
		data, err := c.storage.Read(c.internal(req.Address),
			req.AccessByteSize)
		if err != nil {
			log.Panic(err)
		}

		return mem.DataReadyRspBuilder{}.
			WithSrc(c.topPort.AsRemote()).
			WithDst(req.Src).
			WithRspTo(req.ID).
			WithData(data).
			Build()
	case *mem.WriteReq:
		return mem.WriteDoneRspBuilder{}.
			WithSrc(c.topPort.AsRemote()).
			WithDst(req.Src).
			WithRspTo(req.ID).
			Build()
	default:
		log.Panicf("cannot handle request of type %T", req)
	}

	return nil
}

// commit applies a request once its response has been sent.
func (c *Comp) commit(req mem.AccessReq) {
	switch req := req.(type) {
	case *mem.ReadReq:
		c.stats.Reads++
		c.stats.BytesRead += req.AccessByteSize
	case *mem.WriteReq:
		if err := c.storage.Write(c.internal(req.Address), req.Data); err != nil {
			log.Panic(err)
		}

		c.stats.Writes++
		c.stats.BytesWrit += uint64(len(req.Data))
	}
}

func (c *Comp) internal(addr uint64) uint64 {
	if addr < c.addrOffset {
		log.Panicf("%s: address 0x%x is below the memory range", c.Name(),
			addr)
	}

	return addr - c.addrOffset
}

// Storage returns the backing storage, for loading program images.
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

// Quiescent tells if no request is being served.
func (c *Comp) Quiescent() bool {
	return c.inflight == 0 && len(c.ready) == 0 &&
		c.topPort.NumIncoming() == 0
}

type ctrlState struct {
	Data  json.RawMessage `json:"data"`
	Stats Stats           `json:"stats"`
}

// State returns the memory content and the counters. The controller must be
// quiescent.
func (c *Comp) State() any {
	if !c.Quiescent() {
		panic(fmt.Sprintf("memory controller %s is not quiescent", c.Name()))
	}

	data, err := json.Marshal(c.storage.State())
	if err != nil {
		panic(err)
	}

	return ctrlState{Data: data, Stats: c.stats}
}

// SetState restores the memory content and the counters.
func (c *Comp) SetState(raw json.RawMessage) error {
	var s ctrlState

	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	if err := c.storage.SetState(s.Data); err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}

	c.stats = s.Stats

	return nil
}
