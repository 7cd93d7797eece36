package cache

import (
	"errors"

	"github.com/sarchlab/o3sim/mem/cache/internal/mshr"
	"github.com/sarchlab/o3sim/mem/cache/internal/tagging"
	"github.com/sarchlab/o3sim/mem/cache/prefetch"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/tracing"
)

// lookupStage decides whether the transactions leaving the tag pipeline hit,
// merge into an outstanding miss, or allocate a new miss. Transactions are
// handled in order; a transaction that cannot proceed blocks the ones behind
// it.
type lookupStage struct {
	*Comp
}

func (s *lookupStage) Tick() bool {
	madeProgress := s.tagPipeline.Tick()

	for range s.numReqPerCycle {
		item := s.postTagBuf.Peek()
		if item == nil {
			break
		}

		trans := item.(*transaction)
		if !s.lookup(trans) {
			break
		}

		s.postTagBuf.Pop()
		madeProgress = true
	}

	return madeProgress
}

func (s *lookupStage) lookup(trans *transaction) bool {
	if inv, ok := trans.req.(*mem.InvalidateReq); ok {
		return s.invalidate(trans, inv)
	}

	if entry, found := s.mshr.Lookup(trans.blockAddr); found {
		return s.mshrHit(trans, entry)
	}

	if block, found := s.tags.Lookup(trans.blockAddr); found {
		return s.hit(trans, block)
	}

	return s.miss(trans)
}

func (s *lookupStage) mshrHit(trans *transaction, entry *mshr.Entry) bool {
	if trans.prefetch {
		s.stats.PrefetchesDropped++
		return true
	}

	usedPrefetch := entry.IsPrefetch && len(entry.Targets) == 0

	err := s.mshr.AddTarget(entry, trans.req)
	if errors.Is(err, mshr.ErrTargetsFull) {
		return false
	}

	if err != nil {
		panic(err)
	}

	if usedPrefetch {
		s.stats.PrefetchesUseful++
	}

	s.stats.MSHRHits++
	s.countDemand(trans)
	s.step(trans, "mshr-hit")
	s.observe(trans, true, usedPrefetch)

	return true
}

func (s *lookupStage) hit(trans *transaction, block *tagging.Block) bool {
	if trans.prefetch {
		s.stats.PrefetchesDropped++
		return true
	}

	if !s.dataPipeline.CanAccept() {
		return false
	}

	trans.block = block
	block.ReadCount++
	s.policy.Touch(&block.Repl, s.nextAccess())

	prefetchHit := block.Prefetched
	if prefetchHit {
		s.stats.PrefetchesUseful++
		block.Prefetched = false
	}

	s.dataPipeline.Accept(trans)

	s.stats.Hits++
	s.countDemand(trans)
	s.step(trans, "hit")
	s.observe(trans, false, prefetchHit)

	return true
}

func (s *lookupStage) miss(trans *transaction) bool {
	if trans.prefetch && s.mshr.NumFree() <= s.mshrReserve {
		s.stats.PrefetchesDropped++
		return true
	}

	if s.mshr.IsFull() {
		if !trans.mshrStalled {
			trans.mshrStalled = true
			s.stats.MSHRFullStalls++
		}

		s.stats.MSHRFullCycles++

		return false
	}

	victim, ok := s.allocatable(trans.blockAddr)
	if !ok {
		if trans.prefetch {
			s.stats.PrefetchesDropped++
			return true
		}

		return false
	}

	s.evict(victim)

	victim.Tag = trans.blockAddr
	victim.IsValid = false
	victim.IsDirty = false
	victim.Prefetched = false
	victim.IsLocked = true

	entry, err := s.mshr.AddEntry(trans.blockAddr)
	if err != nil {
		panic(err)
	}

	entry.Block = victim
	entry.IsPrefetch = trans.prefetch

	if !trans.prefetch {
		if err := s.mshr.AddTarget(entry, trans.req); err != nil {
			panic(err)
		}
	}

	s.fetch(trans, entry)

	if trans.prefetch {
		s.stats.PrefetchesIssued++
	} else {
		s.stats.Misses++
		s.countDemand(trans)
		s.step(trans, "miss")
		s.observe(trans, true, false)
	}

	s.stats.PeakOutstanding = max(s.stats.PeakOutstanding, s.Outstanding())

	return true
}

// allocatable returns the block that a miss can take over, if the victim and
// the fetch can both be handled this cycle.
func (s *lookupStage) allocatable(blockAddr uint64) (*tagging.Block, bool) {
	victim, found := s.victimFinder.FindVictim(s.tags, blockAddr)
	if !found {
		return nil, false
	}

	if victim.IsValid && victim.IsDirty && !s.bottomSendBuf.CanPush() {
		return nil, false
	}

	if !s.fetchPipeline.CanAccept() {
		return nil, false
	}

	return victim, true
}

func (s *lookupStage) fetch(trans *transaction, entry *mshr.Entry) {
	builder := mem.ReadReqBuilder{}.
		WithSrc(s.bottomPort.AsRemote()).
		WithDst(s.addressToPortMapper.Find(trans.blockAddr)).
		WithAddress(trans.blockAddr).
		WithByteSize(s.blockSize).
		WithIssueTime(s.CurrentTime())
	if trans.prefetch {
		builder = builder.AsPrefetch()
	}

	req := builder.Build()
	entry.FetchReq = req

	parentID := ""
	if !trans.prefetch {
		parentID = tracing.MsgIDAtReceiver(trans.req, s.Comp)
	}

	tracing.TraceReqInitiate(req, s.Comp, parentID)
	s.fetchPipeline.Accept(msgItem{msg: req})
}

// evict removes a valid block, writing it back if it is dirty. The caller
// makes sure that the write-back can be sent.
func (s *lookupStage) evict(block *tagging.Block) {
	if !block.IsValid {
		s.policy.Invalidate(&block.Repl)
		return
	}

	s.stats.Evictions++

	if block.IsDirty {
		s.writeBack(block)
	}

	s.policy.Invalidate(&block.Repl)
}

func (s *lookupStage) writeBack(block *tagging.Block) {
	data, err := s.storage.Read(block.CacheAddress, s.blockSize)
	if err != nil {
		panic(err)
	}

	req := mem.WriteReqBuilder{}.
		WithSrc(s.bottomPort.AsRemote()).
		WithDst(s.addressToPortMapper.Find(block.Tag)).
		WithAddress(block.Tag).
		WithData(data).
		WithIssueTime(s.CurrentTime()).
		Build()

	s.pendingWritebacks[req.ID] = true
	s.bottomSendBuf.Push(msgItem{msg: req})
	s.stats.Writebacks++
}

func (s *lookupStage) invalidate(
	trans *transaction,
	req *mem.InvalidateReq,
) bool {
	if _, found := s.mshr.Lookup(trans.blockAddr); found {
		return false
	}

	// Fill responses still in flight would be overtaken by the done response.
	if s.fillRspPipeline.Len() > 0 || !s.respondBuf.CanPush() {
		return false
	}

	block, found := s.tags.Lookup(trans.blockAddr)
	if found {
		if block.ReadCount > 0 {
			return false
		}

		if block.IsDirty && !s.bottomSendBuf.CanPush() {
			return false
		}

		if block.IsDirty {
			s.writeBack(block)
		}

		block.IsValid = false
		block.IsDirty = false
		block.Prefetched = false
		s.policy.Invalidate(&block.Repl)
		s.stats.Invalidations++
	}

	rsp := mem.NewInvalidateDoneRsp(s.topPort.AsRemote(), req)
	s.respondBuf.Push(msgItem{msg: rsp, req: req})

	return true
}

func (s *lookupStage) countDemand(trans *transaction) {
	switch trans.req.(type) {
	case *mem.ReadReq:
		s.stats.Reads++
	case *mem.WriteReq:
		s.stats.Writes++
	}
}

func (s *lookupStage) step(trans *transaction, what string) {
	tracing.AddTaskStep(tracing.MsgIDAtReceiver(trans.req, s.Comp), s.Comp,
		what)
}

func (s *lookupStage) observe(trans *transaction, miss, prefetchHit bool) {
	if s.prefetcher == nil {
		return
	}

	candidates := s.prefetcher.Observe(prefetch.Access{
		BlockAddr:   trans.blockAddr,
		PC:          trans.pc,
		Miss:        miss,
		PrefetchHit: prefetchHit,
	})

	for _, addr := range candidates {
		if !s.prefetchQueue.Push(addr) {
			s.stats.PrefetchesDropped++
		}
	}
}
