package cache

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/o3sim/mem/cache/internal/mshr"
	"github.com/sarchlab/o3sim/mem/cache/internal/tagging"
	"github.com/sarchlab/o3sim/mem/cache/prefetch"
	"github.com/sarchlab/o3sim/mem/cache/replacement"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/queueing"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build caches.
type Builder struct {
	engine timing.Engine
	freq   timing.Freq

	numReqPerCycle      int
	log2BlockSize       int
	wayAssociativity    int
	byteSize            uint64
	tagLatency          int
	dataLatency         int
	responseLatency     int
	numMSHREntry        int
	numTargetsPerMSHR   int
	replacementPolicy   string
	prefetcher          string
	prefetchQueueSize   int
	mshrReserve         int
	seed                int64
	portBufferSize      int
	addressToPortMapper mem.AddressToPortMapper
}

// MakeBuilder creates a new builder with the default parameters of an L1
// data cache.
func MakeBuilder() Builder {
	return Builder{
		freq:              1 * timing.GHz,
		numReqPerCycle:    1,
		log2BlockSize:     6,
		wayAssociativity:  4,
		byteSize:          32 * mem.KB,
		tagLatency:        3,
		dataLatency:       3,
		responseLatency:   3,
		numMSHREntry:      32,
		numTargetsPerMSHR: 16,
		replacementPolicy: "lru",
		prefetcher:        "none",
		prefetchQueueSize: 32,
		mshrReserve:       4,
		portBufferSize:    4,
	}
}

// WithEngine sets the engine of the builder.
func (b Builder) WithEngine(engine timing.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the builder.
func (b Builder) WithFreq(freq timing.Freq) Builder {
	b.freq = freq
	return b
}

// WithNumReqPerCycle sets the number of requests the cache can take and look
// up in each cycle.
func (b Builder) WithNumReqPerCycle(n int) Builder {
	b.numReqPerCycle = n
	return b
}

// WithLog2BlockSize sets the log2 of the cache line size.
func (b Builder) WithLog2BlockSize(n int) Builder {
	b.log2BlockSize = n
	return b
}

// WithWayAssociativity sets the way associativity.
func (b Builder) WithWayAssociativity(n int) Builder {
	b.wayAssociativity = n
	return b
}

// WithByteSize sets the capacity of the cache.
func (b Builder) WithByteSize(byteSize uint64) Builder {
	b.byteSize = byteSize
	return b
}

// WithTagLatency sets the number of cycles to look up the tags.
func (b Builder) WithTagLatency(cycles int) Builder {
	b.tagLatency = cycles
	return b
}

// WithDataLatency sets the number of cycles to access the data array.
func (b Builder) WithDataLatency(cycles int) Builder {
	b.dataLatency = cycles
	return b
}

// WithResponseLatency sets the number of cycles to forward a miss to the
// lower level and to return the responses after a fill.
func (b Builder) WithResponseLatency(cycles int) Builder {
	b.responseLatency = cycles
	return b
}

// WithNumMSHREntry sets the number of outstanding misses the cache can track.
func (b Builder) WithNumMSHREntry(n int) Builder {
	b.numMSHREntry = n
	return b
}

// WithNumTargetsPerMSHR sets how many requests can wait on one miss.
func (b Builder) WithNumTargetsPerMSHR(n int) Builder {
	b.numTargetsPerMSHR = n
	return b
}

// WithReplacementPolicy selects the replacement policy by name.
func (b Builder) WithReplacementPolicy(name string) Builder {
	b.replacementPolicy = name
	return b
}

// WithPrefetcher selects the prefetcher by name. "none" disables it.
func (b Builder) WithPrefetcher(name string) Builder {
	b.prefetcher = name
	return b
}

// WithPrefetchQueueSize sets the number of prefetch candidates that can wait
// for issue.
func (b Builder) WithPrefetchQueueSize(n int) Builder {
	b.prefetchQueueSize = n
	return b
}

// WithMSHRReserve sets the number of MSHR entries that prefetches never use.
func (b Builder) WithMSHRReserve(n int) Builder {
	b.mshrReserve = n
	return b
}

// WithSeed sets the seed of randomized policies.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithPortBufferSize sets the capacity of the port buffers.
func (b Builder) WithPortBufferSize(n int) Builder {
	b.portBufferSize = n
	return b
}

// WithAddressToPortMapper sets how the cache finds the lower level module
// that serves an address.
func (b Builder) WithAddressToPortMapper(m mem.AddressToPortMapper) Builder {
	b.addressToPortMapper = m
	return b
}

// Validate reports the first parameter that cannot form a cache.
func (b Builder) Validate() error {
	blockSize := uint64(1) << b.log2BlockSize

	switch {
	case b.log2BlockSize < 2 || b.log2BlockSize > 12:
		return fmt.Errorf("block size 2^%d is out of range", b.log2BlockSize)
	case b.wayAssociativity <= 0:
		return fmt.Errorf("associativity must be positive")
	case b.byteSize == 0 ||
		b.byteSize%(blockSize*uint64(b.wayAssociativity)) != 0:
		return fmt.Errorf("size %s is not a whole number of %d-way sets",
			mem.FormatSize(b.byteSize), b.wayAssociativity)
	case bits.OnesCount64(b.byteSize/(blockSize*uint64(b.wayAssociativity))) != 1:
		return fmt.Errorf("the number of sets must be a power of two")
	case b.tagLatency < 0 || b.dataLatency < 0 || b.responseLatency < 0:
		return fmt.Errorf("latencies must not be negative")
	case b.numReqPerCycle <= 0:
		return fmt.Errorf("requests per cycle must be positive")
	case b.numMSHREntry <= 0 || b.numTargetsPerMSHR <= 0:
		return fmt.Errorf("mshr entries and targets must be positive")
	case b.mshrReserve < 0:
		return fmt.Errorf("mshr reserve must not be negative")
	case b.prefetchQueueSize <= 0:
		return fmt.Errorf("prefetch queue size must be positive")
	}

	if _, err := replacement.ByName(b.replacementPolicy, b.seed); err != nil {
		return err
	}

	if _, err := prefetch.ByName(b.prefetcher, int(blockSize)); err != nil {
		return err
	}

	return nil
}

// Build builds a cache. It panics if the parameters are not valid; use
// Validate to check them first.
func (b Builder) Build(name string) *Comp {
	if err := b.Validate(); err != nil {
		panic(fmt.Sprintf("cache %s: %v", name, err))
	}

	comp := new(Comp)
	comp.TickingComponent = modeling.NewTickingComponent(
		name,
		b.engine,
		b.freq,
		comp,
	)

	b.initState(comp)
	b.addPorts(comp, name)
	b.buildPipelines(comp, name)
	b.addMiddleware(comp)

	return comp
}

func (b Builder) initState(comp *Comp) {
	blockSize := 1 << b.log2BlockSize
	numSets := int(b.byteSize / uint64(blockSize*b.wayAssociativity))

	policy, _ := replacement.ByName(b.replacementPolicy, b.seed)
	prefetcher, _ := prefetch.ByName(b.prefetcher, blockSize)

	comp.numReqPerCycle = b.numReqPerCycle
	comp.blockSize = uint64(blockSize)
	comp.log2BlockSize = uint64(b.log2BlockSize)
	comp.mshrReserve = min(b.mshrReserve, b.numMSHREntry-1)
	comp.responseLatency = b.responseLatency
	comp.addressToPortMapper = b.addressToPortMapper
	comp.policy = policy
	comp.victimFinder = tagging.NewPolicyVictimFinder(policy)
	comp.tags = tagging.NewTagArray(numSets, b.wayAssociativity, blockSize)
	comp.mshr = mshr.NewMSHR(b.numMSHREntry, b.numTargetsPerMSHR)
	comp.storage = mem.NewNamedStorage(comp.Name()+".Data", b.byteSize)
	comp.prefetcher = prefetcher
	comp.prefetchQueue = prefetch.NewQueue(b.prefetchQueueSize)
	comp.pendingWritebacks = make(map[string]bool)
}

func (b Builder) addPorts(comp *Comp, name string) {
	comp.topPort = modeling.NewPortWithSide(
		comp,
		b.portBufferSize,
		b.portBufferSize,
		name+".Top",
		modeling.CPUSide,
	)
	comp.bottomPort = modeling.NewPortWithSide(
		comp,
		b.portBufferSize,
		b.portBufferSize,
		name+".Bottom",
		modeling.MemSide,
	)

	comp.AddPort("Top", comp.topPort)
	comp.AddPort("Bottom", comp.bottomPort)
}

func (b Builder) buildPipelines(comp *Comp, name string) {
	width := b.numReqPerCycle

	comp.postTagBuf = queueing.NewBuffer(name+".PostTagBuf", width)
	comp.tagPipeline = queueing.MakePipelineBuilder().
		WithPipelineWidth(width).
		WithNumStage(b.tagLatency).
		WithCyclePerStage(1).
		WithPostPipelineBuffer(comp.postTagBuf).
		Build(name + ".TagPipeline")

	comp.postDataBuf = queueing.NewBuffer(name+".PostDataBuf", width)
	comp.dataPipeline = queueing.MakePipelineBuilder().
		WithPipelineWidth(width).
		WithNumStage(b.dataLatency).
		WithCyclePerStage(1).
		WithPostPipelineBuffer(comp.postDataBuf).
		Build(name + ".DataPipeline")

	comp.respondBuf = queueing.NewBuffer(name+".RespondBuf", 2*width)
	comp.fillRspPipeline = queueing.MakePipelineBuilder().
		WithPipelineWidth(width).
		WithNumStage(b.responseLatency).
		WithCyclePerStage(1).
		WithPostPipelineBuffer(comp.respondBuf).
		Build(name + ".FillRspPipeline")

	comp.bottomSendBuf = queueing.NewBuffer(name+".BottomSendBuf", 2*width)
	comp.fetchPipeline = queueing.MakePipelineBuilder().
		WithPipelineWidth(width).
		WithNumStage(b.responseLatency).
		WithCyclePerStage(1).
		WithPostPipelineBuffer(comp.bottomSendBuf).
		Build(name + ".FetchPipeline")
}

func (b Builder) addMiddleware(comp *Comp) {
	comp.AddMiddleware(&bottomInteraction{Comp: comp})
	comp.AddMiddleware(&dataStage{Comp: comp})
	comp.AddMiddleware(&lookupStage{Comp: comp})
	comp.AddMiddleware(&topParser{Comp: comp})
	comp.AddMiddleware(&responder{Comp: comp})
}
