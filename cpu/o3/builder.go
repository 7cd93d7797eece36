package o3

import (
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/cpu/bpred"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build CPUs.
type Builder struct {
	engine timing.Engine
	freq   timing.Freq

	numThreads  int
	fetchPolicy FetchPolicy
	predictor   string
	predCfg     bpred.Config

	fetchWidth    int
	decodeWidth   int
	dispatchWidth int
	issueWidth    int
	commitWidth   int

	robSize      int
	iqSize       int
	lsqSize      int
	storeBufSize int
	fetchQSize   int
	decodeQSize  int
	blockSize    uint64
	bufSize      int

	iMapper       mem.AddressToPortMapper
	dMapper       mem.AddressToPortMapper
	uncachedRange mem.AddrRange
	uncachedDst   modeling.RemotePort
	addrLimit     uint64
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:          1 * timing.GHz,
		numThreads:    1,
		fetchPolicy:   FetchRoundRobin,
		predictor:     "tage",
		fetchWidth:    8,
		decodeWidth:   8,
		dispatchWidth: 8,
		issueWidth:    8,
		commitWidth:   8,
		robSize:       192,
		iqSize:        64,
		lsqSize:       64,
		storeBufSize:  16,
		fetchQSize:    32,
		decodeQSize:   16,
		blockSize:     64,
		bufSize:       16,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine timing.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency.
func (b Builder) WithFreq(freq timing.Freq) Builder {
	b.freq = freq
	return b
}

// WithNumThreads sets the number of hardware threads.
func (b Builder) WithNumThreads(n int) Builder {
	b.numThreads = n
	return b
}

// WithFetchPolicy sets how the fetch stage picks a thread.
func (b Builder) WithFetchPolicy(p FetchPolicy) Builder {
	b.fetchPolicy = p
	return b
}

// WithBranchPredictor selects the branch predictor by name.
func (b Builder) WithBranchPredictor(name string, cfg bpred.Config) Builder {
	b.predictor = name
	b.predCfg = cfg

	return b
}

// WithWidth sets the width of every pipeline stage.
func (b Builder) WithWidth(n int) Builder {
	b.fetchWidth = n
	b.decodeWidth = n
	b.dispatchWidth = n
	b.issueWidth = n
	b.commitWidth = n

	return b
}

// WithIssueWidth sets how many instructions issue per cycle.
func (b Builder) WithIssueWidth(n int) Builder {
	b.issueWidth = n
	return b
}

// WithCommitWidth sets how many instructions commit per cycle.
func (b Builder) WithCommitWidth(n int) Builder {
	b.commitWidth = n
	return b
}

// WithNumROBEntries sets the size of the reorder buffer.
func (b Builder) WithNumROBEntries(n int) Builder {
	b.robSize = n
	return b
}

// WithNumIQEntries sets the size of the instruction queue.
func (b Builder) WithNumIQEntries(n int) Builder {
	b.iqSize = n
	return b
}

// WithNumLSQEntries sets the size of the load-store queue.
func (b Builder) WithNumLSQEntries(n int) Builder {
	b.lsqSize = n
	return b
}

// WithStoreBufferSize sets how many committed stores can wait for memory.
func (b Builder) WithStoreBufferSize(n int) Builder {
	b.storeBufSize = n
	return b
}

// WithBlockSize sets the size of the instruction cache block that one fetch
// can read.
func (b Builder) WithBlockSize(n uint64) Builder {
	b.blockSize = n
	return b
}

// WithBufferSize sets the capacity of the port buffers.
func (b Builder) WithBufferSize(n int) Builder {
	b.bufSize = n
	return b
}

// WithInstMapper sets where instruction fetches go.
func (b Builder) WithInstMapper(m mem.AddressToPortMapper) Builder {
	b.iMapper = m
	return b
}

// WithDataMapper sets where loads and stores go.
func (b Builder) WithDataMapper(m mem.AddressToPortMapper) Builder {
	b.dMapper = m
	return b
}

// WithUncachedRange makes accesses to the range bypass the data cache and
// leave through the Uncached port.
func (b Builder) WithUncachedRange(
	r mem.AddrRange,
	dst modeling.RemotePort,
) Builder {
	b.uncachedRange = r
	b.uncachedDst = dst

	return b
}

// WithAddressLimit sets the end of the memory. Loads and stores past it
// fault when they commit.
func (b Builder) WithAddressLimit(limit uint64) Builder {
	b.addrLimit = limit
	return b
}

// Validate reports parameters that cannot form a CPU.
func (b Builder) Validate() error {
	for name, n := range map[string]int{
		"number of threads":  b.numThreads,
		"fetch width":        b.fetchWidth,
		"decode width":       b.decodeWidth,
		"dispatch width":     b.dispatchWidth,
		"issue width":        b.issueWidth,
		"commit width":       b.commitWidth,
		"ROB entries":        b.robSize,
		"IQ entries":         b.iqSize,
		"LSQ entries":        b.lsqSize,
		"store buffer size":  b.storeBufSize,
		"decode queue size":  b.decodeQSize,
		"port buffer size":   b.bufSize,
		"fetch queue length": b.fetchQSize,
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}

	if b.fetchQSize < b.fetchWidth {
		return fmt.Errorf("fetch queue length %d is less than fetch width %d",
			b.fetchQSize, b.fetchWidth)
	}

	if b.blockSize == 0 || b.blockSize%8 != 0 {
		return fmt.Errorf("block size %d is not a multiple of 8", b.blockSize)
	}

	if _, err := bpred.New(b.predictor, b.predCfg); err != nil {
		return err
	}

	return nil
}

// Build creates a CPU with the ICache, DCache, and Uncached ports.
func (b Builder) Build(name string) *Comp {
	if err := b.Validate(); err != nil {
		log.Panicf("cannot build %s: %v", name, err)
	}

	c := &Comp{
		iMapper:       b.iMapper,
		dMapper:       b.dMapper,
		uncachedRange: b.uncachedRange,
		uncachedDst:   b.uncachedDst,
		addrLimit:     b.addrLimit,
		blockSize:     b.blockSize,
		fetchPolicy:   b.fetchPolicy,
		fetchWidth:    b.fetchWidth,
		decodeWidth:   b.decodeWidth,
		dispatchWidth: b.dispatchWidth,
		issueWidth:    b.issueWidth,
		commitWidth:   b.commitWidth,
		robSize:       b.robSize,
		iqSize:        b.iqSize,
		lsqSize:       b.lsqSize,
		storeBufSize:  b.storeBufSize,
		pendingLoads:  make(map[string]*dynInst),
		pendingStores: make(map[string]*storeEntry),
	}
	c.TickingComponent = modeling.NewTickingComponent(name, b.engine, b.freq, c)

	predCfg := b.predCfg
	predCfg.NumThreads = b.numThreads
	c.predictor, _ = bpred.New(b.predictor, predCfg)

	for i := range b.numThreads {
		c.threads = append(c.threads,
			newThread(name, i, b.fetchQSize, b.decodeQSize))
	}

	b.addPorts(c, name)

	c.AddMiddleware(&commitStage{Comp: c})
	c.AddMiddleware(&lsqStage{Comp: c})
	c.AddMiddleware(&issueStage{Comp: c})
	c.AddMiddleware(&dispatchStage{Comp: c})
	c.AddMiddleware(&decodeStage{Comp: c})
	c.AddMiddleware(&fetchStage{Comp: c})

	return c
}

func (b Builder) addPorts(c *Comp, name string) {
	c.iCachePort = modeling.NewPortWithSide(
		c, b.bufSize, b.bufSize, name+".ICache", modeling.MemSide)
	c.dCachePort = modeling.NewPortWithSide(
		c, b.bufSize, b.bufSize, name+".DCache", modeling.MemSide)
	c.uncachedPort = modeling.NewPortWithSide(
		c, b.bufSize, b.bufSize, name+".Uncached", modeling.MemSide)

	c.AddPort("ICache", c.iCachePort)
	c.AddPort("DCache", c.dCachePort)
	c.AddPort("Uncached", c.uncachedPort)
}
