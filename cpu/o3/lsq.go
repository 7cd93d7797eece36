package o3

import (
	"encoding/binary"
	"log"

	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/tracing"
)

// lsqStage sends loads to the data cache, forwards store data to younger
// loads, and drains committed stores from the store buffer.
type lsqStage struct {
	*Comp
}

func (s *lsqStage) Tick() bool {
	madeProgress := s.receive(s.dCachePort)

	if s.uncachedPort != nil {
		madeProgress = s.receive(s.uncachedPort) || madeProgress
	}

	madeProgress = s.issueLoads() || madeProgress
	madeProgress = s.drainStores() || madeProgress

	return madeProgress
}

func (s *lsqStage) receive(port modeling.Port) bool {
	madeProgress := false

	for range s.issueWidth {
		msg := port.RetrieveIncoming()
		if msg == nil {
			break
		}

		switch rsp := msg.(type) {
		case *mem.DataReadyRsp:
			s.loadReturned(rsp)
		case *mem.WriteDoneRsp:
			s.storeDone(rsp)
		default:
			log.Panicf("%s cannot handle %T", s.Name(), msg)
		}

		madeProgress = true
	}

	return madeProgress
}

func (s *lsqStage) loadReturned(rsp *mem.DataReadyRsp) {
	d, ok := s.pendingLoads[rsp.RespondTo]
	if !ok {
		return
	}

	delete(s.pendingLoads, rsp.RespondTo)
	tracing.TraceReqFinalize(d.loadReq, s.Comp)

	buf := make([]byte, isa.WordBytes)
	copy(buf, rsp.Data)

	d.loadReq = nil
	d.result = binary.LittleEndian.Uint64(buf)
	d.state = stateDone
}

func (s *lsqStage) storeDone(rsp *mem.WriteDoneRsp) {
	e, ok := s.pendingStores[rsp.RespondTo]
	if !ok {
		log.Panicf("%s got a write response for no store", s.Name())
	}

	delete(s.pendingStores, rsp.RespondTo)
	tracing.TraceReqFinalize(e.req, s.Comp)

	for i, o := range s.storeBuf {
		if o == e {
			s.storeBuf = append(s.storeBuf[:i], s.storeBuf[i+1:]...)
			break
		}
	}
}

func (s *lsqStage) issueLoads() bool {
	madeProgress := false
	sent := 0

	for i, d := range s.lsq {
		if sent >= s.issueWidth {
			break
		}

		if d.state != stateMemory || d.loadReq != nil {
			continue
		}

		value, forward, wait := s.olderStores(i, d)

		switch {
		case wait:
			continue
		case forward:
			d.result = value
			d.forwarded = true
			d.state = stateDone
			madeProgress = true
		default:
			if !s.sendLoad(d) {
				return madeProgress
			}

			sent++
			madeProgress = true
		}
	}

	return madeProgress
}

// olderStores checks the stores that come before the load at index i of the
// load-store queue, and then the committed stores. A store to the same word
// forwards its data. A partial overlap, or an older store with an unknown
// address, makes the load wait.
func (s *lsqStage) olderStores(
	i int,
	d *dynInst,
) (value uint64, forward, wait bool) {
	var match *dynInst

	for _, o := range s.lsq[:i] {
		if o.tid != d.tid || !o.inst.IsStore() {
			continue
		}

		if o.state != stateDone {
			return 0, false, true
		}

		if !o.fault && o.overlaps(d.out.Addr) {
			match = o
		}
	}

	if match != nil {
		if match.out.Addr == d.out.Addr {
			return match.out.Value, true, false
		}

		return 0, false, true
	}

	for j := len(s.storeBuf) - 1; j >= 0; j-- {
		e := s.storeBuf[j]
		if !wordsOverlap(e.addr, d.out.Addr) {
			continue
		}

		if e.addr == d.out.Addr {
			return e.data, true, false
		}

		return 0, false, true
	}

	return 0, false, false
}

func wordsOverlap(a, b uint64) bool {
	return a < b+isa.WordBytes && b < a+isa.WordBytes
}

func (s *lsqStage) route(addr uint64) (modeling.Port, modeling.RemotePort) {
	if s.uncachedRange.Size > 0 && s.uncachedRange.Contains(addr) {
		return s.uncachedPort, s.uncachedDst
	}

	return s.dCachePort, s.dMapper.Find(addr)
}

func (s *lsqStage) sendLoad(d *dynInst) bool {
	port, dst := s.route(d.out.Addr)

	req := mem.ReadReqBuilder{}.
		WithSrc(port.AsRemote()).
		WithDst(dst).
		WithAddress(d.out.Addr).
		WithByteSize(isa.WordBytes).
		WithIssueTime(s.CurrentTime()).
		WithInfo(&mem.InstInfo{PC: d.pc, ThreadID: d.tid}).
		Build()

	if err := port.Send(req); err != nil {
		return false
	}

	tracing.TraceReqInitiate(req, s.Comp, "")

	d.loadReq = req
	s.pendingLoads[req.ID] = d

	return true
}

func (s *lsqStage) drainStores() bool {
	madeProgress := false

	for i, e := range s.storeBuf {
		if e.req != nil || s.blockedByOlder(i) {
			continue
		}

		port, dst := s.route(e.addr)

		data := make([]byte, isa.WordBytes)
		binary.LittleEndian.PutUint64(data, e.data)

		req := mem.WriteReqBuilder{}.
			WithSrc(port.AsRemote()).
			WithDst(dst).
			WithAddress(e.addr).
			WithData(data).
			WithIssueTime(s.CurrentTime()).
			WithInfo(&mem.InstInfo{PC: e.pc, ThreadID: e.tid}).
			Build()

		if err := port.Send(req); err != nil {
			break
		}

		tracing.TraceReqInitiate(req, s.Comp, "")

		e.req = req
		s.pendingStores[req.ID] = e
		madeProgress = true
	}

	return madeProgress
}

// blockedByOlder keeps writes to the same word in commit order.
func (s *lsqStage) blockedByOlder(i int) bool {
	for _, o := range s.storeBuf[:i] {
		if wordsOverlap(o.addr, s.storeBuf[i].addr) {
			return true
		}
	}

	return false
}
