package cache

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/mem/idealmemcontroller"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/mem/memaccessagent"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
	"github.com/sarchlab/o3sim/tracing"
)

type testPlatform struct {
	engine *timing.SerialEngine
	agent  *memaccessagent.MemAccessAgent
	cache  *Comp
	dram   *idealmemcontroller.Comp
}

func buildPlatform(
	configure func(b Builder) Builder,
	memLatency int,
) *testPlatform {
	p := &testPlatform{engine: timing.NewSerialEngine()}

	p.dram = idealmemcontroller.MakeBuilder().
		WithEngine(p.engine).
		WithNewStorage(16 * mem.MB).
		WithLatency(memLatency).
		WithWidth(4).
		Build("DRAM")

	mapper := &mem.SinglePortMapper{
		Port: p.dram.GetPortByName("Top").AsRemote(),
	}

	p.cache = configure(MakeBuilder().
		WithEngine(p.engine).
		WithAddressToPortMapper(mapper)).
		Build("L1")

	p.agent = memaccessagent.MakeBuilder().
		WithEngine(p.engine).
		WithLowModule(p.cache.GetPortByName("Top")).
		Build("Agent")

	topConn := modeling.MakeDirectConnectionBuilder().
		WithEngine(p.engine).
		Build("TopConn")
	Expect(modeling.Connect(topConn,
		p.agent.GetPortByName("Mem"), p.cache.GetPortByName("Top"))).
		To(Succeed())

	bottomConn := modeling.MakeDirectConnectionBuilder().
		WithEngine(p.engine).
		Build("BottomConn")
	Expect(modeling.Connect(bottomConn,
		p.cache.GetPortByName("Bottom"), p.dram.GetPortByName("Top"))).
		To(Succeed())

	return p
}

func (p *testPlatform) run() {
	p.agent.Start()
	Expect(p.engine.Run()).To(Succeed())
	Expect(p.agent.Done()).To(BeTrue())
}

func toJSON(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func defaultCache(b Builder) Builder {
	return b
}

var _ = Describe("Builder", func() {
	It("should reject a size that is not a whole number of sets", func() {
		err := MakeBuilder().WithByteSize(1000).Validate()
		Expect(err).To(HaveOccurred())
	})

	It("should reject an unknown replacement policy", func() {
		err := MakeBuilder().WithReplacementPolicy("mru").Validate()
		Expect(err).To(MatchError(ContainSubstring("mru")))
	})

	It("should reject an unknown prefetcher", func() {
		err := MakeBuilder().WithPrefetcher("markov").Validate()
		Expect(err).To(HaveOccurred())
	})

	It("should accept the default parameters", func() {
		Expect(MakeBuilder().Validate()).To(Succeed())
	})
})

var _ = Describe("Cache", func() {
	It("should return the data that was written", func() {
		p := buildPlatform(defaultCache, 20)

		p.agent.Write(0x1004, []byte{1, 2, 3, 4})
		p.agent.Read(0x1004, 4)
		p.agent.Read(0x1000, 8)
		p.run()

		Expect(p.agent.Completed).To(HaveLen(3))
		Expect(p.agent.Completed[1].Rsp.(*mem.DataReadyRsp).Data).
			To(Equal([]byte{1, 2, 3, 4}))
		Expect(p.agent.Completed[2].Rsp.(*mem.DataReadyRsp).Data).
			To(Equal([]byte{0, 0, 0, 0, 1, 2, 3, 4}))

		dirty := p.cache.FunctionalWriteBack()
		Expect(dirty).To(HaveKey(uint64(0x1000)))
	})

	It("should hit faster than it misses", func() {
		p := buildPlatform(defaultCache, 50)

		p.agent.Read(0x2000, 4)
		p.run()
		p.agent.Read(0x2000, 4)
		p.run()

		miss := p.agent.Completed[0].Latency()
		hit := p.agent.Completed[1].Latency()

		Expect(hit).To(BeNumerically(">=", 6*timing.GHz.Period()))
		Expect(hit).To(BeNumerically("<", miss))

		stats := p.cache.Stats()
		Expect(stats.Misses).To(Equal(uint64(1)))
		Expect(stats.Hits).To(Equal(uint64(1)))
		Expect(stats.Reads).To(Equal(uint64(2)))
	})

	It("should merge requests to a block that is being fetched", func() {
		p := buildPlatform(defaultCache, 50)

		p.agent.Read(0x3000, 4)
		p.agent.Read(0x3008, 4)
		p.agent.Write(0x3010, []byte{5, 5, 5, 5})
		p.run()

		stats := p.cache.Stats()
		Expect(stats.Misses).To(Equal(uint64(1)))
		Expect(stats.MSHRHits).To(Equal(uint64(2)))
		Expect(p.dram.Stats().Reads).To(Equal(uint64(1)))
		Expect(p.agent.Completed).To(HaveLen(3))
	})

	It("should write back dirty victims", func() {
		p := buildPlatform(func(b Builder) Builder {
			return b.WithByteSize(256).WithWayAssociativity(4)
		}, 10)

		for i := range 5 {
			p.agent.Write(uint64(i)*64, []byte{byte(i + 1), 0, 0, 0})
		}
		p.run()

		stats := p.cache.Stats()
		Expect(stats.Evictions).To(Equal(uint64(1)))
		Expect(stats.Writebacks).To(Equal(uint64(1)))

		data, err := p.dram.Storage().Read(0, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{1, 0, 0, 0}))

		p.agent.Read(0, 4)
		p.run()
		Expect(p.agent.Completed[5].Rsp.(*mem.DataReadyRsp).Data).
			To(Equal([]byte{1, 0, 0, 0}))
	})

	It("should write back and drop a block on invalidation", func() {
		p := buildPlatform(defaultCache, 10)

		p.agent.Write(0x4000, []byte{7, 7, 7, 7})
		p.agent.Invalidate(0x4000)
		p.run()

		Expect(p.agent.Completed[0].Rsp).
			To(BeAssignableToTypeOf(&mem.WriteDoneRsp{}))
		Expect(p.agent.Completed[1].Rsp).
			To(BeAssignableToTypeOf(&mem.InvalidateDoneRsp{}))
		Expect(p.cache.Stats().Invalidations).To(Equal(uint64(1)))

		_, cached := p.cache.FunctionalRead(0x4000, 4)
		Expect(cached).To(BeFalse())

		data, err := p.dram.Storage().Read(0x4000, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{7, 7, 7, 7}))
	})

	It("should drop a prefetch that finds no victim", func() {
		p := buildPlatform(func(b Builder) Builder {
			return b.WithByteSize(128).
				WithWayAssociativity(1).
				WithNumReqPerCycle(2)
		}, 10)
		p.cache.tags.Block(0, 0).IsLocked = true

		demand := mem.ReadReqBuilder{}.
			WithAddress(0x40).
			WithByteSize(4).
			Build()
		p.cache.postTagBuf.Push(&transaction{blockAddr: 0x80, prefetch: true})
		p.cache.postTagBuf.Push(&transaction{req: demand, blockAddr: 0x40})

		(&lookupStage{Comp: p.cache}).Tick()

		Expect(p.cache.postTagBuf.Size()).To(BeZero())
		Expect(p.cache.Stats().PrefetchesDropped).To(Equal(uint64(1)))
		Expect(p.cache.Stats().Misses).To(Equal(uint64(1)))

		_, found := p.cache.mshr.Lookup(0x80)
		Expect(found).To(BeFalse())
		_, found = p.cache.mshr.Lookup(0x40)
		Expect(found).To(BeTrue())
	})

	It("should stall a demand miss that finds no victim", func() {
		p := buildPlatform(func(b Builder) Builder {
			return b.WithByteSize(128).WithWayAssociativity(1)
		}, 10)
		p.cache.tags.Block(0, 0).IsLocked = true

		demand := mem.ReadReqBuilder{}.
			WithAddress(0x80).
			WithByteSize(4).
			Build()
		stage := &lookupStage{Comp: p.cache}

		Expect(stage.miss(&transaction{req: demand, blockAddr: 0x80})).
			To(BeFalse())
		Expect(p.cache.Stats().Misses).To(BeZero())
	})

	It("should hold an invalidation behind pending fill responses", func() {
		p := buildPlatform(defaultCache, 10)
		p.cache.fillRspPipeline.Accept(msgItem{
			msg: mem.WriteDoneRspBuilder{}.WithRspTo("write").Build(),
		})

		inv := mem.InvalidateReqBuilder{}.WithAddress(0x4000).Build()
		stage := &lookupStage{Comp: p.cache}

		Expect(stage.invalidate(&transaction{req: inv, blockAddr: 0x4000},
			inv)).To(BeFalse())
		Expect(p.cache.respondBuf.Size()).To(BeZero())
	})

	It("should keep data consistent under random traffic", func() {
		p := buildPlatform(func(b Builder) Builder {
			return b.WithByteSize(4 * mem.KB).WithWayAssociativity(2)
		}, 30)

		p.agent.ReadLeft = 2000
		p.agent.WriteLeft = 2000
		p.agent.MaxAddress = 64 * mem.KB
		p.run()

		Expect(p.agent.Mismatches).To(BeEmpty())
		Expect(p.cache.Stats().Evictions).NotTo(BeZero())
	})

	It("should stall misses beyond the MSHR capacity without dropping them",
		func() {
			p := buildPlatform(defaultCache, 200)

			for i := range 40 {
				p.agent.Read(uint64(i)*64, 4)
			}
			p.run()

			stats := p.cache.Stats()
			Expect(stats.PeakOutstanding).To(Equal(32))
			Expect(stats.MSHRFullStalls).To(BeNumerically(">=", 1))
			Expect(stats.MSHRFullCycles).NotTo(BeZero())
			Expect(stats.Misses).To(Equal(uint64(40)))

			Expect(p.agent.Completed).To(HaveLen(40))
			for i, c := range p.agent.Completed {
				Expect(c.Req.GetAddress()).To(Equal(uint64(i) * 64))
			}

			// The last eight fetches wait for the first fills.
			bound := 300 * timing.GHz.Period()
			for _, c := range p.agent.Completed[:32] {
				Expect(c.Latency()).To(BeNumerically("<", bound))
			}
			for _, c := range p.agent.Completed[32:] {
				Expect(c.Latency()).To(BeNumerically(">", bound))
			}
		})

	It("should issue useful prefetches for a sequential stream", func() {
		p := buildPlatform(func(b Builder) Builder {
			return b.WithPrefetcher("stride")
		}, 40)

		for i := range 16 {
			p.agent.Read(uint64(i)*64, 4)
		}
		p.run()

		Expect(p.cache.Stats().PrefetchesIssued).NotTo(BeZero())

		p.agent.Read(16*64, 4)
		p.run()

		Expect(p.cache.Stats().PrefetchesUseful).NotTo(BeZero())
	})

	It("should restore a checkpointed cache", func() {
		p := buildPlatform(defaultCache, 10)
		p.agent.Write(0x5000, []byte{3, 1, 4, 1})
		p.run()

		raw, err := toJSON(p.cache.State())
		Expect(err).NotTo(HaveOccurred())

		q := buildPlatform(defaultCache, 10)
		Expect(q.cache.SetState(raw)).To(Succeed())

		data, found := q.cache.FunctionalRead(0x5000, 4)
		Expect(found).To(BeTrue())
		Expect(data).To(Equal([]byte{3, 1, 4, 1}))
		Expect(q.cache.Stats().Writes).To(Equal(uint64(1)))
	})

	It("should trace each request with its outcome", func() {
		p := buildPlatform(defaultCache, 10)
		steps := tracing.NewStepCountTracer(tracing.KindIs("req_in"))
		tracing.CollectTrace(p.cache, steps)

		p.agent.Read(0x6000, 4)
		p.run()
		p.agent.Read(0x6000, 4)
		p.run()

		Expect(steps.GetStepCount("miss")).To(Equal(uint64(1)))
		Expect(steps.GetStepCount("hit")).To(Equal(uint64(1)))
	})
})
