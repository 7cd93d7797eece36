package xbar

import (
	"fmt"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Builder can build crossbars.
type Builder struct {
	engine      timing.Engine
	freq        timing.Freq
	numTopPorts int
	width       int
	bufSize     int
	arbitration Arbitration
	mapper      mem.AddressToPortMapper
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:        1 * timing.GHz,
		numTopPorts: 1,
		width:       1,
		bufSize:     4,
		arbitration: ArbitrationRoundRobin,
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

// WithNumTopPorts sets the number of requester side ports.
func (b Builder) WithNumTopPorts(n int) Builder {
	b.numTopPorts = n
	return b
}

// WithWidth sets the number of requests, and separately the number of
// responses, forwarded per cycle.
func (b Builder) WithWidth(n int) Builder {
	b.width = n
	return b
}

// WithBufferSize sets the capacity of every port buffer.
func (b Builder) WithBufferSize(n int) Builder {
	b.bufSize = n
	return b
}

// WithArbitration sets the arbitration policy.
func (b Builder) WithArbitration(a Arbitration) Builder {
	b.arbitration = a
	return b
}

// WithAddressMapper sets how request addresses select a low module.
func (b Builder) WithAddressMapper(mapper mem.AddressToPortMapper) Builder {
	b.mapper = mapper
	return b
}

// Build creates a crossbar. Low modules are added with PlugLowModule.
func (b Builder) Build(name string) *Comp {
	if b.numTopPorts <= 0 || b.width <= 0 || b.bufSize <= 0 {
		panic(fmt.Sprintf("xbar %s: ports, width, and buffer size "+
			"must be positive", name))
	}

	c := &Comp{
		bufSize:    b.bufSize,
		lowModules: make(map[modeling.RemotePort]modeling.Port),
		mapper:     b.mapper,
		reqArbiter: NewArbiter(b.arbitration),
		rspArbiter: NewArbiter(b.arbitration),
		width:      b.width,
		routes:     make(map[string]route),
	}
	c.TickingComponent = modeling.NewTickingComponent(name, b.engine, b.freq, c)

	for i := range b.numTopPorts {
		portName := indexedName("Top", i)
		p := modeling.NewPortWithSide(c, b.bufSize, b.bufSize,
			name+"."+portName, modeling.CPUSide)
		c.AddPort(portName, p)
		c.topPorts = append(c.topPorts, p)
		c.reqArbiter.AddPort(p)
	}

	c.AddMiddleware(&middleware{Comp: c})

	return c
}

func indexedName(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}
