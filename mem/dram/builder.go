package dram

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build new DRAM controllers.
type Builder struct {
	engine        timing.Engine
	freq          timing.Freq
	numBanks      int
	rowBufferSize uint64
	timing        Timing
	queueSize     int
	width         int
	capacity      uint64
	addrOffset    uint64
	topBufSize    int
	storage       *mem.Storage
}

// MakeBuilder creates a builder with the DDR3_1600_8x8 preset.
func MakeBuilder() Builder {
	p := presets["DDR3_1600_8x8"]

	return Builder{
		freq:          p.Freq,
		numBanks:      p.NumBanks,
		rowBufferSize: p.RowBufferSize,
		timing:        p.Timing,
		queueSize:     32,
		width:         1,
		capacity:      4 * mem.GB,
		topBufSize:    16,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine timing.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the memory clock.
func (b Builder) WithFreq(freq timing.Freq) Builder {
	b.freq = freq
	return b
}

// WithPreset applies the clock, organization, and timing of a preset.
func (b Builder) WithPreset(p Preset) Builder {
	b.freq = p.Freq
	b.numBanks = p.NumBanks
	b.rowBufferSize = p.RowBufferSize
	b.timing = p.Timing

	return b
}

// WithNumBanks sets the number of banks.
func (b Builder) WithNumBanks(n int) Builder {
	b.numBanks = n
	return b
}

// WithRowBufferSize sets the number of bytes in a row.
func (b Builder) WithRowBufferSize(size uint64) Builder {
	b.rowBufferSize = size
	return b
}

// WithTiming sets the timing parameters.
func (b Builder) WithTiming(t Timing) Builder {
	b.timing = t
	return b
}

// WithQueueSize sets the number of requests that can wait for the banks.
func (b Builder) WithQueueSize(n int) Builder {
	b.queueSize = n
	return b
}

// WithWidth sets the number of requests taken and answered per cycle.
func (b Builder) WithWidth(n int) Builder {
	b.width = n
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

// Validate reports the first parameter that cannot form a controller.
func (b Builder) Validate() error {
	switch {
	case b.numBanks <= 0:
		return fmt.Errorf("dram needs at least one bank")
	case b.rowBufferSize == 0 || bits.OnesCount64(b.rowBufferSize) != 1:
		return fmt.Errorf("row buffer size must be a power of two")
	case b.queueSize <= 0 || b.width <= 0:
		return fmt.Errorf("queue size and width must be positive")
	}

	return b.timing.Validate()
}

// Build creates a DRAM controller. It panics if the parameters are not valid.
func (b Builder) Build(name string) *Comp {
	if err := b.Validate(); err != nil {
		panic(fmt.Sprintf("dram %s: %v", name, err))
	}

	c := &Comp{
		addrOffset: b.addrOffset,
		width:      b.width,
	}

	c.TickingComponent = modeling.NewTickingComponent(name, b.engine, b.freq, c)
	c.sched = newScheduler(b.timing, b.numBanks, b.rowBufferSize,
		b.queueSize, &c.stats)

	if b.storage != nil {
		c.storage = b.storage
	} else {
		c.storage = mem.NewNamedStorage(name+".Storage", b.capacity)
	}

	c.topPort = modeling.NewPortWithSide(
		c, b.topBufSize, b.topBufSize, name+".Top", modeling.CPUSide)
	c.AddPort("Top", c.topPort)

	c.AddMiddleware(&middleware{Comp: c})

	return c
}
