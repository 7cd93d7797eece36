package xbar

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/mem/idealmemcontroller"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/mem/memaccessagent"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

var _ = Describe("Arbiter", func() {
	var ports []modeling.Port

	deliver := func(i int) {
		req := mem.ReadReqBuilder{}.
			WithSrc("Agent.Mem").
			WithDst(ports[i].AsRemote()).
			WithAddress(0x40).
			WithByteSize(4).
			Build()
		Expect(ports[i].Deliver(req)).To(BeNil())
	}

	BeforeEach(func() {
		ports = nil
		for _, name := range []string{"P0", "P1", "P2"} {
			ports = append(ports,
				modeling.NewPortWithSide(nil, 4, 4, name, modeling.CPUSide))
		}
	})

	It("should skip ports without messages", func() {
		a := NewArbiter(ArbitrationFixedPriority)
		for _, p := range ports {
			a.AddPort(p)
		}

		deliver(2)
		deliver(0)

		Expect(a.Arbitrate()).To(Equal([]modeling.Port{ports[0], ports[2]}))
		Expect(a.Arbitrate()).To(Equal([]modeling.Port{ports[0], ports[2]}))
	})

	It("should rotate the first port with round robin", func() {
		a := NewArbiter(ArbitrationRoundRobin)
		for _, p := range ports {
			a.AddPort(p)
		}

		for i := range ports {
			deliver(i)
		}

		Expect(a.Arbitrate()[0]).To(BeIdenticalTo(ports[0]))
		Expect(a.Arbitrate()[0]).To(BeIdenticalTo(ports[1]))
		Expect(a.Arbitrate()).To(Equal(
			[]modeling.Port{ports[2], ports[0], ports[1]}))
	})

	It("should parse policy names", func() {
		a, err := ParseArbitration("roundrobin")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(ArbitrationRoundRobin))

		_, err = ParseArbitration("lottery")
		Expect(err).To(HaveOccurred())
	})
})

type xbarPlatform struct {
	engine     *timing.SerialEngine
	agents     []*memaccessagent.MemAccessAgent
	xbar       *Comp
	memA, memB *idealmemcontroller.Comp
}

func buildXbarPlatform(arbitration Arbitration) *xbarPlatform {
	p := &xbarPlatform{engine: timing.NewSerialEngine()}

	p.memA = idealmemcontroller.MakeBuilder().
		WithEngine(p.engine).
		WithNewStorage(1 * mem.MB).
		WithLatency(20).
		Build("MemA")
	p.memB = idealmemcontroller.MakeBuilder().
		WithEngine(p.engine).
		WithNewStorage(1 * mem.MB).
		WithAddrOffset(1 * mem.MB).
		WithLatency(20).
		Build("MemB")

	mapper := &mem.RangePortMapper{}
	Expect(mapper.AddRange(mem.AddrRange{Start: 0, Size: 1 * mem.MB},
		p.memA.GetPortByName("Top").AsRemote())).To(Succeed())
	Expect(mapper.AddRange(mem.AddrRange{Start: 1 * mem.MB, Size: 1 * mem.MB},
		p.memB.GetPortByName("Top").AsRemote())).To(Succeed())

	p.xbar = MakeBuilder().
		WithEngine(p.engine).
		WithNumTopPorts(2).
		WithArbitration(arbitration).
		WithAddressMapper(mapper).
		Build("Xbar")

	connect := func(name string, a, b modeling.Port) {
		conn := modeling.MakeDirectConnectionBuilder().
			WithEngine(p.engine).
			Build(name)
		Expect(modeling.Connect(conn, a, b)).To(Succeed())
	}

	for i, name := range []string{"AgentA", "AgentB"} {
		agent := memaccessagent.MakeBuilder().
			WithEngine(p.engine).
			WithLowModule(p.xbar.TopPort(i)).
			Build(name)
		p.agents = append(p.agents, agent)

		connect(name+"Conn", agent.GetPortByName("Mem"), p.xbar.TopPort(i))
	}

	for i, m := range []*idealmemcontroller.Comp{p.memA, p.memB} {
		top := m.GetPortByName("Top")
		bottom := p.xbar.PlugLowModule(top.AsRemote())
		connect([]string{"MemAConn", "MemBConn"}[i], bottom, top)
	}

	return p
}

func (p *xbarPlatform) run() {
	for _, a := range p.agents {
		a.Start()
	}

	Expect(p.engine.Run()).To(Succeed())

	for _, a := range p.agents {
		Expect(a.Done()).To(BeTrue())
		Expect(a.Mismatches).To(BeEmpty())
	}
}

var _ = Describe("Crossbar", func() {
	It("should route requests by address and responses by request", func() {
		p := buildXbarPlatform(ArbitrationRoundRobin)

		a, b := p.agents[0], p.agents[1]
		a.Write(0x100, []byte{1, 2, 3, 4})
		a.Read(0x100, 4)
		b.Write(1*mem.MB+0x40, []byte{5, 6, 7, 8})
		b.Read(1*mem.MB+0x40, 4)

		p.run()

		Expect(a.Completed).To(HaveLen(2))
		Expect(b.Completed).To(HaveLen(2))

		Expect(p.memA.Stats().Writes).To(Equal(uint64(1)))
		Expect(p.memB.Stats().Writes).To(Equal(uint64(1)))

		data, err := p.memB.Storage().Read(0x40, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{5, 6, 7, 8}))

		Expect(p.xbar.Stats().Requests).To(Equal(uint64(4)))
		Expect(p.xbar.Stats().Responses).To(Equal(uint64(4)))
		Expect(p.xbar.Quiescent()).To(BeTrue())
	})

	It("should let a requester reach every low module", func() {
		p := buildXbarPlatform(ArbitrationRoundRobin)

		a := p.agents[0]
		a.Write(0x80, []byte{1, 1, 1, 1})
		a.Write(1*mem.MB+0x80, []byte{2, 2, 2, 2})
		a.Read(0x80, 4)
		a.Read(1*mem.MB+0x80, 4)

		p.run()

		Expect(a.Completed).To(HaveLen(4))
		Expect(p.memA.Stats().Reads).To(Equal(uint64(1)))
		Expect(p.memB.Stats().Reads).To(Equal(uint64(1)))
	})

	It("should serve the higher priority port first", func() {
		p := buildXbarPlatform(ArbitrationFixedPriority)

		for i := range 8 {
			p.agents[0].Read(uint64(i)*64, 64)
			p.agents[1].Read(uint64(i)*64+0x1000, 64)
		}

		p.run()

		a, b := p.agents[0].Completed, p.agents[1].Completed
		Expect(a[len(a)-1].DoneAt).To(BeNumerically("<", b[0].DoneAt))
		Expect(p.xbar.Stats().Requests).To(Equal(uint64(16)))
	})

	It("should alternate between ports with round robin", func() {
		p := buildXbarPlatform(ArbitrationRoundRobin)

		for i := range 8 {
			p.agents[0].Read(uint64(i)*64, 64)
			p.agents[1].Read(uint64(i)*64+0x1000, 64)
		}

		p.run()

		a, b := p.agents[0].Completed, p.agents[1].Completed
		Expect(b[0].DoneAt).To(BeNumerically("<", a[2].DoneAt))
		Expect(a[0].DoneAt).To(BeNumerically("<", b[2].DoneAt))
	})

	It("should count a blocked cycle once however many ports wait", func() {
		xbar := MakeBuilder().
			WithEngine(timing.NewSerialEngine()).
			WithNumTopPorts(2).
			WithWidth(2).
			WithBufferSize(1).
			WithAddressMapper(&mem.SinglePortMapper{Port: "Mem.Top"}).
			Build("Xbar")
		xbar.PlugLowModule("Mem.Top")

		deliver := func(i int) {
			req := mem.ReadReqBuilder{}.
				WithSrc(modeling.RemotePort("Agent.Mem")).
				WithDst(xbar.TopPort(i).AsRemote()).
				WithAddress(0x40).
				WithByteSize(4).
				Build()
			Expect(xbar.TopPort(i).Deliver(req)).To(BeNil())
		}

		deliver(0)
		deliver(1)
		xbar.Tick()

		Expect(xbar.Stats().Requests).To(Equal(uint64(1)))
		Expect(xbar.Stats().BlockedCycles).To(Equal(uint64(1)))

		deliver(0)
		xbar.Tick()

		Expect(xbar.Stats().Requests).To(Equal(uint64(1)))
		Expect(xbar.Stats().BlockedCycles).To(Equal(uint64(2)))
	})

	It("should keep data consistent under random traffic", func() {
		p := buildXbarPlatform(ArbitrationRoundRobin)

		p.agents[0].ReadLeft = 300
		p.agents[0].WriteLeft = 300
		p.agents[0].MaxAddress = 1 * mem.MB

		for i := range 32 {
			p.agents[1].Write(1*mem.MB+uint64(i)*4, []byte{byte(i), 0, 0, 0})
			p.agents[1].Read(1*mem.MB+uint64(i)*4, 4)
		}

		p.run()

		Expect(p.memB.Stats().Writes).To(Equal(uint64(32)))
	})
})
