package idealmemcontroller

import (
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build ideal memory controllers.
type Builder struct {
	engine     timing.Engine
	freq       timing.Freq
	width      int
	latency    int
	capacity   uint64
	addrOffset uint64
	topBufSize int
	storage    *mem.Storage
}

// MakeBuilder returns a new Builder
func MakeBuilder() Builder {
	return Builder{
		latency:    100,
		freq:       1 * timing.GHz,
		capacity:   4 * mem.GB,
		width:      1,
		topBufSize: 16,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine timing.Engine) Builder {
	b.engine = engine
	return b
}

// WithWidth sets the number of requests accepted and answered per cycle.
func (b Builder) WithWidth(width int) Builder {
	b.width = width
	return b
}

// WithLatency sets the latency of the memory controller in cycles.
func (b Builder) WithLatency(latency int) Builder {
	b.latency = latency
	return b
}

// WithFreq sets the frequency of the memory controller
func (b Builder) WithFreq(freq timing.Freq) Builder {
	b.freq = freq
	return b
}

// WithNewStorage sets the capacity of the storage to create.
func (b Builder) WithNewStorage(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithStorage shares an existing storage.
func (b Builder) WithStorage(s *mem.Storage) Builder {
	b.storage = s
	return b
}

// WithAddrOffset sets the first address served by the controller.
func (b Builder) WithAddrOffset(offset uint64) Builder {
	b.addrOffset = offset
	return b
}

// WithTopBufSize sets the capacity of the top port buffers.
func (b Builder) WithTopBufSize(n int) Builder {
	b.topBufSize = n
	return b
}

// Build builds a new Comp
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		latency:    b.latency,
		width:      b.width,
		addrOffset: b.addrOffset,
	}

	c.TickingComponent = modeling.NewTickingComponent(name, b.engine, b.freq, c)

	if b.storage != nil {
		c.storage = b.storage
	} else {
		c.storage = mem.NewNamedStorage(name+".Storage", b.capacity)
	}

	c.topPort = modeling.NewPortWithSide(
		c, b.topBufSize, b.topBufSize, name+".Top", modeling.CPUSide)
	c.AddPort("Top", c.topPort)

	return c
}
