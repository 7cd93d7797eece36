package interrupt

import (
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build interrupt controllers.
type Builder struct {
	engine       timing.Engine
	freq         timing.Freq
	pioBase      uint64
	vectorBase   uint64
	vectorStride uint64
	bufSize      int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:         1 * timing.GHz,
		vectorStride: 0x100,
		bufSize:      4,
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

// WithPIOBase sets the first address of the register window.
func (b Builder) WithPIOBase(addr uint64) Builder {
	b.pioBase = addr
	return b
}

// WithVectorTable sets where the handler of vector v starts:
// base + v*stride.
func (b Builder) WithVectorTable(base, stride uint64) Builder {
	b.vectorBase = base
	b.vectorStride = stride

	return b
}

// WithBufferSize sets the capacity of the port buffers.
func (b Builder) WithBufferSize(n int) Builder {
	b.bufSize = n
	return b
}

// Build creates an interrupt controller with the PIO, IntRequestor, and
// IntResponder ports.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		pioBase:      b.pioBase,
		vectorBase:   b.vectorBase,
		vectorStride: b.vectorStride,
	}
	c.TickingComponent = modeling.NewTickingComponent(name, b.engine, b.freq, c)

	c.pioPort = modeling.NewPortWithSide(c, b.bufSize, b.bufSize,
		name+".PIO", modeling.CPUSide)
	c.AddPort("PIO", c.pioPort)

	c.requestorPort = modeling.NewPortWithSide(c, b.bufSize, b.bufSize,
		name+".IntRequestor", modeling.MemSide)
	c.AddPort("IntRequestor", c.requestorPort)

	c.responderPort = modeling.NewPortWithSide(c, b.bufSize, b.bufSize,
		name+".IntResponder", modeling.CPUSide)
	c.AddPort("IntResponder", c.responderPort)

	c.AddMiddleware(&middleware{Comp: c})

	return c
}
