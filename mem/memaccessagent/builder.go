package memaccessagent

import (
	"log"
	"math/rand"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build MemAccessAgents.
type Builder struct {
	engine     timing.Engine
	freq       timing.Freq
	maxAddress uint64
	writeLeft  int
	readLeft   int
	seed       int64
	bufSize    int
	lowModule  modeling.Port
	logger     *log.Logger
}

// MakeBuilder creates a builder for an agent that only sends the requests
// that are queued.
func MakeBuilder() *Builder {
	return &Builder{
		freq:       1 * timing.GHz,
		maxAddress: 1 * mem.MB,
		bufSize:    4,
	}
}

// WithEngine sets the engine.
func (b *Builder) WithEngine(engine timing.Engine) *Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency.
func (b *Builder) WithFreq(freq timing.Freq) *Builder {
	b.freq = freq
	return b
}

// WithMaxAddress bounds the random addresses.
func (b *Builder) WithMaxAddress(addr uint64) *Builder {
	b.maxAddress = addr
	return b
}

// WithWriteLeft sets the number of random writes.
func (b *Builder) WithWriteLeft(write int) *Builder {
	b.writeLeft = write
	return b
}

// WithReadLeft sets the number of random reads.
func (b *Builder) WithReadLeft(read int) *Builder {
	b.readLeft = read
	return b
}

// WithSeed sets the seed of the random traffic.
func (b *Builder) WithSeed(seed int64) *Builder {
	b.seed = seed
	return b
}

// WithBufferSize sets the capacity of the port buffers.
func (b *Builder) WithBufferSize(n int) *Builder {
	b.bufSize = n
	return b
}

// WithLowModule sets the port that receives the requests.
func (b *Builder) WithLowModule(port modeling.Port) *Builder {
	b.lowModule = port
	return b
}

// WithLogger prints every request and response.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// Build creates a new agent.
func (b *Builder) Build(name string) *MemAccessAgent {
	agent := &MemAccessAgent{
		MaxAddress:    b.maxAddress,
		WriteLeft:     b.writeLeft,
		ReadLeft:      b.readLeft,
		KnownMemValue: make(map[uint64]uint32),
		rand:          rand.New(rand.NewSource(b.seed)),
		inflight:      make(map[string]*Completion),
		logger:        b.logger,
	}

	agent.TickingComponent = modeling.NewTickingComponent(
		name, b.engine, b.freq, agent)

	agent.memPort = modeling.NewPortWithSide(
		agent, b.bufSize, b.bufSize, name+".Mem", modeling.MemSide)
	agent.AddPort("Mem", agent.memPort)

	if b.lowModule != nil {
		agent.LowModule = b.lowModule.AsRemote()
	}

	return agent
}
