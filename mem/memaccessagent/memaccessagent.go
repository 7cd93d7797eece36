// Package memaccessagent provides a component that drives caches and memory
// controllers with reads and writes and checks the data that comes back.
package memaccessagent

import (
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// A Completion records a request that has been answered.
type Completion struct {
	Req      mem.AccessReq
	Rsp      modeling.Msg
	IssuedAt timing.VTime
	DoneAt   timing.VTime
}

// Latency returns the number of ticks between sending and answering.
func (c Completion) Latency() timing.VTime {
	return c.DoneAt - c.IssuedAt
}

// A MemAccessAgent is a Component that sends requests to a lower module. It
// first sends the requests queued with Read and Write, in order, and then
// generates random traffic if ReadLeft or WriteLeft is set.
type MemAccessAgent struct {
	*modeling.TickingComponent

	LowModule  modeling.RemotePort
	MaxAddress uint64

	WriteLeft     int
	ReadLeft      int
	KnownMemValue map[uint64]uint32
	Mismatches    []string

	// Completed lists the answered requests in the order the answers
	// arrived.
	Completed []Completion

	memPort  modeling.Port
	rand     *rand.Rand
	script   []mem.AccessReq
	inflight map[string]*Completion
	logger   *log.Logger
}

// Read queues a read request and returns it.
func (a *MemAccessAgent) Read(addr, size uint64) *mem.ReadReq {
	req := mem.ReadReqBuilder{}.
		WithSrc(a.memPort.AsRemote()).
		WithDst(a.LowModule).
		WithAddress(addr).
		WithByteSize(size).
		Build()

	a.enqueue(req)

	return req
}

// Write queues a write request and returns it.
func (a *MemAccessAgent) Write(addr uint64, data []byte) *mem.WriteReq {
	req := mem.WriteReqBuilder{}.
		WithSrc(a.memPort.AsRemote()).
		WithDst(a.LowModule).
		WithAddress(addr).
		WithData(data).
		Build()

	a.enqueue(req)

	return req
}

// Invalidate queues an invalidation request and returns it.
func (a *MemAccessAgent) Invalidate(addr uint64) *mem.InvalidateReq {
	req := mem.InvalidateReqBuilder{}.
		WithSrc(a.memPort.AsRemote()).
		WithDst(a.LowModule).
		WithAddress(addr).
		Build()

	a.enqueue(req)

	return req
}

func (a *MemAccessAgent) enqueue(req mem.AccessReq) {
	a.script = append(a.script, req)
	a.TickLater()
}

// Start makes the agent tick, for example after queuing requests before the
// engine runs.
func (a *MemAccessAgent) Start() {
	a.TickNow()
}

// NumInflight returns the number of requests sent but not yet answered.
func (a *MemAccessAgent) NumInflight() int {
	return len(a.inflight)
}

// Done tells if every queued and random request has been answered.
func (a *MemAccessAgent) Done() bool {
	return len(a.script) == 0 && len(a.inflight) == 0 &&
		a.ReadLeft == 0 && a.WriteLeft == 0
}

// Tick updates the states of the agent and issues new read and write requests.
func (a *MemAccessAgent) Tick() bool {
	madeProgress := false

	madeProgress = a.processMsgRsp() || madeProgress

	if len(a.script) > 0 {
		return a.sendScripted() || madeProgress
	}

	if a.ReadLeft == 0 && a.WriteLeft == 0 {
		return madeProgress
	}

	if a.shouldRead() {
		madeProgress = a.doRead() || madeProgress
	} else {
		madeProgress = a.doWrite() || madeProgress
	}

	return madeProgress
}

func (a *MemAccessAgent) processMsgRsp() bool {
	msg := a.memPort.RetrieveIncoming()
	if msg == nil {
		return false
	}

	rsp, ok := msg.(modeling.Rsp)
	if !ok {
		log.Panicf("cannot process message of type %T", msg)
	}

	c, found := a.inflight[rsp.GetRspTo()]
	if !found {
		log.Panicf("%s: response to unknown request %s", a.Name(),
			rsp.GetRspTo())
	}

	delete(a.inflight, rsp.GetRspTo())

	c.Rsp = msg
	c.DoneAt = a.CurrentTime()
	a.Completed = append(a.Completed, *c)

	if dataRsp, ok := msg.(*mem.DataReadyRsp); ok {
		a.checkReadResult(c.Req, dataRsp)
	}

	if a.logger != nil {
		a.logger.Printf("%d, %s, complete, %T, 0x%X\n",
			a.CurrentTime(), a.Name(), c.Req, c.Req.GetAddress())
	}

	return true
}

func (a *MemAccessAgent) checkReadResult(
	req mem.AccessReq,
	rsp *mem.DataReadyRsp,
) {
	addr := req.GetAddress()
	if req.GetByteSize() != 4 || addr%4 != 0 {
		return
	}

	expected, known := a.KnownMemValue[addr]
	if !known {
		return
	}

	actual := binary.LittleEndian.Uint32(rsp.Data)
	if actual != expected {
		a.Mismatches = append(a.Mismatches, fmt.Sprintf(
			"0x%X: expected 0x%08X, got 0x%08X", addr, expected, actual))
	}
}

func (a *MemAccessAgent) sendScripted() bool {
	req := a.script[0]
	if !a.send(req) {
		return false
	}

	a.script = a.script[1:]

	if w, ok := req.(*mem.WriteReq); ok && len(w.Data) == 4 &&
		w.Address%4 == 0 {
		a.KnownMemValue[w.Address] = binary.LittleEndian.Uint32(w.Data)
	}

	return true
}

func (a *MemAccessAgent) send(req mem.AccessReq) bool {
	if err := a.memPort.Send(req); err != nil {
		return false
	}

	a.inflight[req.Meta().ID] = &Completion{
		Req:      req,
		IssuedAt: a.CurrentTime(),
	}

	if a.logger != nil {
		a.logger.Printf("%d, %s, send, %T, 0x%X\n",
			a.CurrentTime(), a.Name(), req, req.GetAddress())
	}

	return true
}

func (a *MemAccessAgent) shouldRead() bool {
	if len(a.KnownMemValue) == 0 {
		return false
	}

	if a.ReadLeft == 0 {
		return false
	}

	if a.WriteLeft == 0 {
		return true
	}

	return a.rand.Float64() > 0.5
}

func (a *MemAccessAgent) doRead() bool {
	address := a.randomReadAddress()

	if a.isAddressInflight(address) {
		return false
	}

	req := mem.ReadReqBuilder{}.
		WithSrc(a.memPort.AsRemote()).
		WithDst(a.LowModule).
		WithAddress(address).
		WithByteSize(4).
		Build()

	if !a.send(req) {
		return false
	}

	a.ReadLeft--

	return true
}

func (a *MemAccessAgent) randomReadAddress() uint64 {
	for {
		addr := a.rand.Uint64() % (a.MaxAddress / 4) * 4
		if _, written := a.KnownMemValue[addr]; written {
			return addr
		}
	}
}

func (a *MemAccessAgent) isAddressInflight(addr uint64) bool {
	for _, c := range a.inflight {
		if c.Req.GetAddress() == addr {
			return true
		}
	}

	return false
}

func uint32ToBytes(data uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, data)

	return bytes
}

func (a *MemAccessAgent) doWrite() bool {
	address := a.rand.Uint64() % (a.MaxAddress / 4) * 4
	data := a.rand.Uint32()

	if a.isAddressInflight(address) {
		return false
	}

	req := mem.WriteReqBuilder{}.
		WithSrc(a.memPort.AsRemote()).
		WithDst(a.LowModule).
		WithAddress(address).
		WithData(uint32ToBytes(data)).
		Build()

	if !a.send(req) {
		return false
	}

	a.WriteLeft--
	a.KnownMemValue[address] = data

	return true
}
