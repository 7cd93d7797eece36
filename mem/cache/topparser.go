package cache

import (
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/id"
	"github.com/sarchlab/o3sim/tracing"
)

// topParser takes the requests from the top port into the tag pipeline. When
// no demand request arrives in a cycle, it issues a queued prefetch instead.
type topParser struct {
	*Comp
}

func (p *topParser) Tick() bool {
	taken := 0

	for range p.numReqPerCycle {
		if !p.parseFromTop() {
			break
		}

		taken++
	}

	if taken == 0 {
		return p.issuePrefetch()
	}

	return true
}

func (p *topParser) parseFromTop() bool {
	item := p.topPort.PeekIncoming()
	if item == nil {
		return false
	}

	if !p.tagPipeline.CanAccept() {
		return false
	}

	req := item.(mem.AccessReq)
	blockAddr, offset := p.split(req.GetAddress())

	if _, isInv := req.(*mem.InvalidateReq); !isInv &&
		offset+req.GetByteSize() > p.blockSize {
		panic("a cache request must not cross a block boundary")
	}

	p.topPort.RetrieveIncoming()
	tracing.TraceReqReceive(req, p.Comp)

	p.tagPipeline.Accept(&transaction{
		id:        id.Generate(),
		req:       req,
		blockAddr: blockAddr,
		pc:        mem.PCOf(req),
	})

	return true
}

func (p *topParser) issuePrefetch() bool {
	if p.prefetchQueue.Len() == 0 || !p.tagPipeline.CanAccept() {
		return false
	}

	blockAddr, _ := p.prefetchQueue.Pop()

	p.tagPipeline.Accept(&transaction{
		id:        id.Generate(),
		blockAddr: blockAddr,
		prefetch:  true,
	})

	return true
}
