package cache

import (
	"fmt"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/tracing"
)

// bottomInteraction is a middleware that handles the interaction between the
// cache and the memory below it. It sends fetches and write-backs and applies
// fills to the waiting targets.
type bottomInteraction struct {
	*Comp
}

func (b *bottomInteraction) Tick() bool {
	madeProgress := false

	madeProgress = b.fetchPipeline.Tick() || madeProgress

	for range b.numReqPerCycle {
		madeProgress = b.sendToBottom() || madeProgress
	}

	madeProgress = b.fillRspPipeline.Tick() || madeProgress

	for range b.numReqPerCycle {
		madeProgress = b.respondTarget() || madeProgress
	}

	for range b.numReqPerCycle {
		madeProgress = b.receiveFromBottom() || madeProgress
	}

	return madeProgress
}

func (b *bottomInteraction) sendToBottom() bool {
	item := b.bottomSendBuf.Peek()
	if item == nil {
		return false
	}

	msg := item.(msgItem).msg
	if err := b.bottomPort.Send(msg); err != nil {
		return false
	}

	b.bottomSendBuf.Pop()

	return true
}

func (b *bottomInteraction) receiveFromBottom() bool {
	item := b.bottomPort.PeekIncoming()
	if item == nil {
		return false
	}

	switch rsp := item.(type) {
	case *mem.DataReadyRsp:
		return b.fill(rsp)
	case *mem.WriteDoneRsp:
		return b.writebackDone(rsp)
	default:
		panic(fmt.Sprintf("cache %s cannot handle %T", b.Name(), rsp))
	}
}

func (b *bottomInteraction) writebackDone(rsp *mem.WriteDoneRsp) bool {
	if !b.pendingWritebacks[rsp.RespondTo] {
		panic(fmt.Sprintf("cache %s got write done for unknown write %s",
			b.Name(), rsp.RespondTo))
	}

	delete(b.pendingWritebacks, rsp.RespondTo)
	b.bottomPort.RetrieveIncoming()

	return true
}

// fill installs a block. Only one fill applies its targets at a time.
func (b *bottomInteraction) fill(rsp *mem.DataReadyRsp) bool {
	if b.filling != nil {
		return false
	}

	entry, found := b.mshr.LookupByFetchID(rsp.RespondTo)
	if !found {
		panic(fmt.Sprintf("cache %s got data for unknown fetch %s",
			b.Name(), rsp.RespondTo))
	}

	b.bottomPort.RetrieveIncoming()
	tracing.TraceReqFinalize(entry.FetchReq, b.Comp)

	block := entry.Block

	if err := b.storage.Write(block.CacheAddress, rsp.Data); err != nil {
		panic(err)
	}

	block.IsValid = true
	block.IsDirty = false
	block.Prefetched = entry.IsPrefetch && len(entry.Targets) == 0
	b.policy.Reset(&block.Repl, b.nextAccess())

	if b.prefetcher != nil {
		b.prefetcher.Filled(entry.BlockAddr, entry.IsPrefetch)
	}

	b.filling = entry
	b.finishFillIfDrained()

	return true
}

func (b *bottomInteraction) respondTarget() bool {
	entry := b.filling
	if entry == nil {
		return false
	}

	if !b.fillRspPipeline.CanAccept() {
		return false
	}

	req := entry.Targets[0]
	entry.Targets = entry.Targets[1:]

	rsp := b.access(entry.Block, req)
	b.fillRspPipeline.Accept(msgItem{msg: rsp, req: req})
	tracing.AddTaskStep(tracing.MsgIDAtReceiver(req, b.Comp), b.Comp,
		"fill")

	b.finishFillIfDrained()

	return true
}

func (b *bottomInteraction) finishFillIfDrained() {
	entry := b.filling
	if len(entry.Targets) > 0 {
		return
	}

	if err := b.mshr.RemoveEntry(entry.BlockAddr); err != nil {
		panic(err)
	}

	entry.Block.IsLocked = false
	b.filling = nil
}
