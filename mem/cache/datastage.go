package cache

import (
	"fmt"

	"github.com/sarchlab/o3sim/mem/cache/internal/tagging"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/tracing"
)

// dataStage reads and writes the data array for the hits that leave the data
// pipeline.
type dataStage struct {
	*Comp
}

func (s *dataStage) Tick() bool {
	madeProgress := s.dataPipeline.Tick()

	for range s.numReqPerCycle {
		madeProgress = s.finishHit() || madeProgress
	}

	return madeProgress
}

func (s *dataStage) finishHit() bool {
	item := s.postDataBuf.Peek()
	if item == nil {
		return false
	}

	if !s.respondBuf.CanPush() {
		return false
	}

	trans := item.(*transaction)
	trans.block.ReadCount--

	rsp := s.access(trans.block, trans.req)
	s.respondBuf.Push(msgItem{msg: rsp, req: trans.req})
	s.postDataBuf.Pop()

	return true
}

// access performs a demand request on a valid block and returns the
// response.
func (c *Comp) access(block *tagging.Block, req mem.AccessReq) modeling.Msg {
	_, offset := c.split(req.GetAddress())
	addr := block.CacheAddress + offset

	switch req := req.(type) {
	case *mem.ReadReq:
		data, err := c.storage.Read(addr, req.AccessByteSize)
		if err != nil {
			panic(err)
		}

		return mem.DataReadyRspBuilder{}.
			WithSrc(c.topPort.AsRemote()).
			WithDst(req.Src).
			WithRspTo(req.ID).
			WithData(data).
			Build()
	case *mem.WriteReq:
		if err := c.storage.Write(addr, req.Data); err != nil {
			panic(err)
		}

		block.IsDirty = true

		return mem.WriteDoneRspBuilder{}.
			WithSrc(c.topPort.AsRemote()).
			WithDst(req.Src).
			WithRspTo(req.ID).
			Build()
	default:
		panic(fmt.Sprintf("cache %s cannot access with %T", c.Name(), req))
	}
}

// responder sends the responses to the requesters.
type responder struct {
	*Comp
}

func (r *responder) Tick() bool {
	madeProgress := false

	for range r.numReqPerCycle {
		item := r.respondBuf.Peek()
		if item == nil {
			break
		}

		rsp := item.(msgItem)
		if err := r.topPort.Send(rsp.msg); err != nil {
			break
		}

		r.respondBuf.Pop()
		tracing.TraceReqComplete(rsp.req, r.Comp)

		madeProgress = true
	}

	return madeProgress
}
