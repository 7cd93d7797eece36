// Package cache provides a set-associative, write-back, write-allocate cache
// with miss status holding registers and an optional prefetcher.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/sarchlab/o3sim/mem/cache/internal/mshr"
	"github.com/sarchlab/o3sim/mem/cache/internal/tagging"
	"github.com/sarchlab/o3sim/mem/cache/prefetch"
	"github.com/sarchlab/o3sim/mem/cache/replacement"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/queueing"
)

// A transaction is a request, or a prefetch, going through the tag and the
// data pipelines.
type transaction struct {
	id        string
	req       mem.AccessReq
	blockAddr uint64
	prefetch  bool
	block     *tagging.Block
	pc        uint64

	// mshrStalled is set once the transaction has been counted as stalled on
	// a full MSHR.
	mshrStalled bool
}

func (t *transaction) TaskID() string {
	return t.id
}

// msgItem carries a message through a fixed-latency pipeline. For a
// response, req is the request being answered.
type msgItem struct {
	msg modeling.Msg
	req mem.AccessReq
}

func (i msgItem) TaskID() string {
	return i.msg.Meta().ID
}

// Stats are the counters a cache keeps.
type Stats struct {
	Reads             uint64 `json:"reads"`
	Writes            uint64 `json:"writes"`
	Hits              uint64 `json:"hits"`
	Misses            uint64 `json:"misses"`
	MSHRHits          uint64 `json:"mshr_hits"`
	Evictions         uint64 `json:"evictions"`
	Writebacks        uint64 `json:"writebacks"`
	Invalidations     uint64 `json:"invalidations"`
	PrefetchesIssued  uint64 `json:"prefetches_issued"`
	PrefetchesUseful  uint64 `json:"prefetches_useful"`
	PrefetchesDropped uint64 `json:"prefetches_dropped"`
	PeakOutstanding   int    `json:"peak_outstanding"`

	// MSHRFullStalls counts the requests that had to wait for a free MSHR.
	MSHRFullStalls uint64 `json:"mshr_full_stalls"`

	// MSHRFullCycles counts the cycles in which the head request waited for a
	// free MSHR.
	MSHRFullCycles uint64 `json:"mshr_full_cycles"`
}

// HitRate returns the fraction of demand accesses that hit, counting MSHR
// hits as misses.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses + s.MSHRHits
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// A Comp implements a cache.
type Comp struct {
	*modeling.TickingComponent
	modeling.MiddlewareHolder

	topPort    modeling.Port
	bottomPort modeling.Port

	addressToPortMapper mem.AddressToPortMapper

	numReqPerCycle  int
	blockSize       uint64
	log2BlockSize   uint64
	mshrReserve     int
	responseLatency int

	tags          tagging.TagArray
	victimFinder  tagging.VictimFinder
	policy        replacement.Policy
	mshr          mshr.MSHR
	storage       *mem.Storage
	prefetcher    prefetch.Prefetcher
	prefetchQueue *prefetch.Queue

	tagPipeline     queueing.Pipeline
	postTagBuf      queueing.Buffer
	dataPipeline    queueing.Pipeline
	postDataBuf     queueing.Buffer
	fillRspPipeline queueing.Pipeline
	fetchPipeline   queueing.Pipeline
	respondBuf      queueing.Buffer
	bottomSendBuf   queueing.Buffer

	filling           *mshr.Entry
	pendingWritebacks map[string]bool
	accessCount       uint64
	stats             Stats
}

// Tick updates the state of the cache.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

// Stats returns a copy of the counters.
func (c *Comp) Stats() Stats {
	return c.stats
}

// ResetStats clears the counters, for example after a warm-up phase.
func (c *Comp) ResetStats() {
	c.stats = Stats{}
}

// SetAddressToPortMapper sets how the cache finds the low module of an
// address.
func (c *Comp) SetAddressToPortMapper(m mem.AddressToPortMapper) {
	c.addressToPortMapper = m
}

// BlockSize returns the cache line size in bytes.
func (c *Comp) BlockSize() uint64 {
	return c.blockSize
}

// MSHRCapacity returns the number of MSHR entries.
func (c *Comp) MSHRCapacity() int {
	return c.mshr.Capacity()
}

// Outstanding returns the number of MSHR entries in use.
func (c *Comp) Outstanding() int {
	return c.mshr.Capacity() - c.mshr.NumFree()
}

// Quiescent tells if the cache has no request in flight, so that its state
// can be checkpointed.
func (c *Comp) Quiescent() bool {
	return c.tagPipeline.Len() == 0 &&
		c.postTagBuf.Size() == 0 &&
		c.dataPipeline.Len() == 0 &&
		c.postDataBuf.Size() == 0 &&
		c.fillRspPipeline.Len() == 0 &&
		c.fetchPipeline.Len() == 0 &&
		c.respondBuf.Size() == 0 &&
		c.bottomSendBuf.Size() == 0 &&
		c.mshr.NumFree() == c.mshr.Capacity() &&
		len(c.pendingWritebacks) == 0 &&
		c.prefetchQueue.Len() == 0 &&
		c.topPort.NumIncoming() == 0 &&
		c.bottomPort.NumIncoming() == 0
}

// FunctionalRead returns the cached copy of the bytes if a valid block holds
// the address. The timing state is not changed.
func (c *Comp) FunctionalRead(addr, size uint64) ([]byte, bool) {
	blockAddr, offset := c.split(addr)
	if offset+size > c.blockSize {
		return nil, false
	}

	block, found := c.tags.Lookup(blockAddr)
	if !found {
		return nil, false
	}

	data, err := c.storage.Read(block.CacheAddress+offset, size)
	if err != nil {
		panic(err)
	}

	return data, true
}

// FunctionalWriteBack returns the dirty blocks together with their data, so
// that a memory image can be made consistent without simulating a flush.
func (c *Comp) FunctionalWriteBack() map[uint64][]byte {
	out := make(map[uint64][]byte)

	for _, b := range c.tags.State() {
		if !b.IsDirty {
			continue
		}

		block := c.tags.Block(b.SetID, b.WayID)

		data, err := c.storage.Read(block.CacheAddress, c.blockSize)
		if err != nil {
			panic(err)
		}

		out[block.Tag] = data
	}

	return out
}

func (c *Comp) split(addr uint64) (blockAddr, offset uint64) {
	blockAddr = addr >> c.log2BlockSize << c.log2BlockSize
	return blockAddr, addr - blockAddr
}

func (c *Comp) nextAccess() uint64 {
	c.accessCount++
	return c.accessCount
}

type cacheState struct {
	Tags        []tagging.BlockState `json:"tags"`
	Data        json.RawMessage      `json:"data"`
	AccessCount uint64               `json:"access_count"`
	Stats       Stats                `json:"stats"`
}

// State returns the content of the cache. The cache must be quiescent.
func (c *Comp) State() any {
	if !c.Quiescent() {
		panic(fmt.Sprintf("cache %s is not quiescent", c.Name()))
	}

	data, err := json.Marshal(c.storage.State())
	if err != nil {
		panic(err)
	}

	return cacheState{
		Tags:        c.tags.State(),
		Data:        data,
		AccessCount: c.accessCount,
		Stats:       c.stats,
	}
}

// SetState restores the content of the cache.
func (c *Comp) SetState(raw json.RawMessage) error {
	var s cacheState

	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	if err := c.tags.SetState(s.Tags); err != nil {
		return err
	}

	if err := c.storage.SetState(s.Data); err != nil {
		return err
	}

	c.accessCount = s.AccessCount
	c.stats = s.Stats
	c.mshr.Reset()
	c.filling = nil
	c.pendingWritebacks = make(map[string]bool)
	c.prefetchQueue.Clear()

	return nil
}
