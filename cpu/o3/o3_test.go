package o3

import (
	"encoding/binary"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/o3sim/cpu/bpred"
	"github.com/sarchlab/o3sim/interrupt"
	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/cache"
	"github.com/sarchlab/o3sim/mem/idealmemcontroller"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

const (
	memSize     = 1 * mem.MB
	pioBase     = 0x20_0000
	vectorBase  = 0x4000
	vectorSlots = 0x100
)

type cpuPlatform struct {
	engine  *timing.SerialEngine
	storage *mem.Storage
	cpu     *Comp
	l1d     *cache.Comp
	intc    *interrupt.Comp
}

func buildPlatform(memLatency int, configure func(Builder) Builder) *cpuPlatform {
	p := &cpuPlatform{
		engine:  timing.NewSerialEngine(),
		storage: mem.NewStorage(memSize),
	}

	imem := idealmemcontroller.MakeBuilder().
		WithEngine(p.engine).
		WithStorage(p.storage).
		WithLatency(2).
		WithWidth(2).
		Build("IMem")

	dmem := idealmemcontroller.MakeBuilder().
		WithEngine(p.engine).
		WithStorage(p.storage).
		WithLatency(memLatency).
		WithWidth(4).
		Build("DMem")

	p.l1d = cache.MakeBuilder().
		WithEngine(p.engine).
		WithAddressToPortMapper(&mem.SinglePortMapper{
			Port: dmem.GetPortByName("Top").AsRemote(),
		}).
		Build("L1D")

	p.intc = interrupt.MakeBuilder().
		WithEngine(p.engine).
		WithPIOBase(pioBase).
		WithVectorTable(vectorBase, vectorSlots).
		Build("IntCtrl")

	p.cpu = configure(MakeBuilder().
		WithEngine(p.engine).
		WithInstMapper(&mem.SinglePortMapper{
			Port: imem.GetPortByName("Top").AsRemote(),
		}).
		WithDataMapper(&mem.SinglePortMapper{
			Port: p.l1d.GetPortByName("Top").AsRemote(),
		}).
		WithUncachedRange(
			mem.AddrRange{Start: pioBase, Size: interrupt.PIOSize},
			p.intc.GetPortByName("PIO").AsRemote(),
		).
		WithAddressLimit(memSize)).
		Build("CPU")

	p.cpu.SetInterruptSource(p.intc)
	p.intc.AddListener(p.cpu)

	p.connect("ICacheConn", p.cpu.GetPortByName("ICache"), imem.GetPortByName("Top"))
	p.connect("DCacheConn", p.cpu.GetPortByName("DCache"), p.l1d.GetPortByName("Top"))
	p.connect("MemConn", p.l1d.GetPortByName("Bottom"), dmem.GetPortByName("Top"))
	p.connect("PIOConn", p.cpu.GetPortByName("Uncached"), p.intc.GetPortByName("PIO"))

	return p
}

func defaultCPU(b Builder) Builder {
	return b
}

func (p *cpuPlatform) connect(name string, a, b modeling.Port) {
	conn := modeling.MakeDirectConnectionBuilder().
		WithEngine(p.engine).
		Build(name)
	Expect(modeling.Connect(conn, a, b)).To(Succeed())
}

func (p *cpuPlatform) load(prog *isa.Program, entries ...uint64) {
	Expect(prog.Load(p.storage)).To(Succeed())

	if len(entries) == 0 {
		entries = []uint64{prog.Entry}
	}

	for tid, pc := range entries {
		p.cpu.Activate(tid, pc)
	}
}

func (p *cpuPlatform) run() {
	p.cpu.Start()
	Expect(p.engine.Run()).To(Succeed())
	Expect(p.cpu.Exited()).To(BeTrue())
}

// word reads memory the way the CPU sees it, through the data cache.
func (p *cpuPlatform) word(addr uint64) uint64 {
	if data, ok := p.l1d.FunctionalRead(addr, isa.WordBytes); ok {
		return binary.LittleEndian.Uint64(data)
	}

	data, err := p.storage.Read(addr, isa.WordBytes)
	Expect(err).NotTo(HaveOccurred())

	return binary.LittleEndian.Uint64(data)
}

func reference(prog *isa.Program, entry uint64) (*isa.Machine, *mem.Storage) {
	storage := mem.NewStorage(memSize)
	Expect(prog.Load(storage)).To(Succeed())

	m := &isa.Machine{PC: entry, Mem: storage}
	Expect(m.Run(1_000_000)).To(Succeed())

	return m, storage
}

func refWord(s *mem.Storage, addr uint64) uint64 {
	data, err := s.Read(addr, isa.WordBytes)
	Expect(err).NotTo(HaveOccurred())

	return binary.LittleEndian.Uint64(data)
}

func (p *cpuPlatform) expectMatches(
	prog *isa.Program,
	tid int,
	entry uint64,
	words ...uint64,
) {
	m, s := reference(prog, entry)

	ctx := p.cpu.Context(tid)
	Expect(ctx.Halted).To(BeTrue())
	Expect(ctx.Regs).To(Equal(m.Regs))
	Expect(ctx.Committed).To(Equal(m.Retired))

	for _, addr := range words {
		Expect(p.word(addr)).To(Equal(refWord(s, addr)),
			"word at 0x%x", addr)
	}
}

const sumProgram = `
	.org 0x1000
_start:
	li   r1, 10
	li   r2, 0
	addi r3, r0, out
loop:
	add  r2, r2, r1
	addi r1, r1, -1
	blt  r0, r1, loop
	st   r2, 0(r3)
	jal  sub
	halt
sub:
	addi r4, r4, 1
	ret

	.org 0x8000
out: .word 0
`

const arrayProgram = `
	.org 0x1000
_start:
	addi r2, r0, arr
	li   r1, 0
	li   r5, 64
fill:
	mul  r6, r1, r1
	st   r6, 0(r2)
	addi r2, r2, 8
	addi r1, r1, 1
	blt  r1, r5, fill
	addi r2, r0, arr
	li   r1, 0
	li   r7, 0
sum:
	ld   r6, 0(r2)
	add  r7, r7, r6
	addi r2, r2, 8
	addi r1, r1, 1
	blt  r1, r5, sum
	st   r7, 0(r2)
	halt

	.org 0x10000
arr: .space 520
`

const forwardProgram = `
	.org 0x1000
_start:
	addi r2, r0, buf
	li   r1, 0
	li   r5, 50
loop:
	st   r1, 0(r2)
	ld   r3, 0(r2)
	add  r4, r4, r3
	addi r1, r1, 1
	blt  r1, r5, loop
	halt

	.org 0x8000
buf: .word 0
`

const branchyProgram = `
	.org 0x1000
_start:
	li   r1, 0
	li   r5, 100
	li   r10, 3
loop:
	mul  r6, r1, r1
	and  r6, r6, r10
	beq  r6, r0, even
	addi r8, r8, 1
	j    next
even:
	addi r9, r9, 1
	jal  bump
next:
	addi r1, r1, 1
	blt  r1, r5, loop
	halt
bump:
	xor  r11, r11, r1
	ret
`

var _ = Describe("Builder", func() {
	It("should reject an unknown branch predictor", func() {
		err := MakeBuilder().
			WithBranchPredictor("perceptron", bpred.Config{}).
			Validate()
		Expect(err).To(MatchError(ContainSubstring("perceptron")))
	})

	It("should reject a fetch queue shorter than the fetch width", func() {
		b := MakeBuilder()
		b.fetchQSize = 4

		Expect(b.Validate()).To(HaveOccurred())
	})

	It("should parse fetch policies", func() {
		p, err := ParseFetchPolicy("icount")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(FetchICount))

		_, err = ParseFetchPolicy("random")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("CPU", func() {
	It("should match the reference machine on a loop with a call", func() {
		prog := isa.MustAssemble(sumProgram)
		p := buildPlatform(20, defaultCPU)
		p.load(prog)

		p.run()

		p.expectMatches(prog, 0, prog.Entry, 0x8000)
		Expect(p.word(0x8000)).To(Equal(uint64(55)))
		Expect(p.cpu.Quiescent()).To(BeTrue())

		s := p.cpu.Stats()
		Expect(s.Committed).To(Equal(p.cpu.Context(0).Committed))
		Expect(s.Stores).To(Equal(uint64(1)))
		Expect(s.IPC()).To(BeNumerically(">", 0))
	})

	It("should keep memory consistent through cache misses", func() {
		prog := isa.MustAssemble(arrayProgram)
		p := buildPlatform(40, defaultCPU)
		p.load(prog)

		p.run()

		arr := prog.Symbols["arr"]
		p.expectMatches(prog, 0, prog.Entry, arr, arr+8*10, arr+8*63, arr+8*64)
		Expect(p.cpu.Stats().Loads).To(Equal(uint64(64)))
	})

	It("should forward store data to younger loads", func() {
		prog := isa.MustAssemble(forwardProgram)
		p := buildPlatform(20, defaultCPU)
		p.load(prog)

		p.run()

		p.expectMatches(prog, 0, prog.Entry, 0x8000)
		Expect(p.cpu.Context(0).Regs[4]).To(Equal(uint64(49 * 50 / 2)))
		Expect(p.cpu.Stats().ForwardedLoads).To(BeNumerically(">", 0))
	})

	DescribeTable("should recover from mispredictions",
		func(predictor string) {
			prog := isa.MustAssemble(branchyProgram)
			p := buildPlatform(20, func(b Builder) Builder {
				return b.WithBranchPredictor(predictor, bpred.Config{})
			})
			p.load(prog)

			p.run()

			p.expectMatches(prog, 0, prog.Entry)

			s := p.cpu.Stats()
			Expect(s.Mispredicts).To(BeNumerically(">", 0))
			Expect(s.Squashed).To(BeNumerically(">", 0))
			Expect(s.Branches).To(BeNumerically(">=", 300))
		},
		Entry("static", "static"),
		Entry("bimodal", "bimodal"),
		Entry("gshare", "gshare"),
		Entry("tage", "tage"),
	)

	It("should stall dispatch when the reorder buffer is full", func() {
		prog := isa.MustAssemble(arrayProgram)
		p := buildPlatform(100, func(b Builder) Builder {
			return b.WithNumROBEntries(4)
		})
		p.load(prog)

		p.run()

		arr := prog.Symbols["arr"]
		p.expectMatches(prog, 0, prog.Entry, arr+8*64)
		Expect(p.cpu.Stats().ROBFullCycles).To(BeNumerically(">", 0))
	})

	It("should stall dispatch when the instruction queue is full", func() {
		prog := isa.MustAssemble(arrayProgram)
		p := buildPlatform(100, func(b Builder) Builder {
			return b.WithNumIQEntries(2)
		})
		p.load(prog)

		p.run()

		p.expectMatches(prog, 0, prog.Entry)
		Expect(p.cpu.Stats().IQFullCycles).To(BeNumerically(">", 0))
	})

	It("should not fault on a squashed path", func() {
		prog := isa.MustAssemble(`
			li  r1, 7
			beq r0, r0, skip
			ld  r2, 3(r0)
			st  r1, 5(r0)
		skip:
			halt
		`)
		p := buildPlatform(20, func(b Builder) Builder {
			return b.WithBranchPredictor("bimodal", bpred.Config{})
		})
		p.load(prog)

		p.run()

		p.expectMatches(prog, 0, prog.Entry)
	})

	It("should panic when a committed load is misaligned", func() {
		prog := isa.MustAssemble("li r2, 3\nld r1, 0(r2)\nhalt")
		p := buildPlatform(20, defaultCPU)
		p.load(prog)
		p.cpu.Start()

		Expect(func() { _ = p.engine.Run() }).To(PanicWith(
			HaveField("What", ContainSubstring("bad address 0x3"))))
	})

	DescribeTable("should run two hardware threads",
		func(policy FetchPolicy) {
			prog := isa.MustAssemble(`
				.org 0x1000
			t0:
				li   r1, 100
				li   r2, 0
			loop0:
				add  r2, r2, r1
				addi r1, r1, -1
				blt  r0, r1, loop0
				addi r3, r0, out
				st   r2, 0(r3)
				halt

				.org 0x3000
			t1:
				li   r1, 1
				li   r5, 30
				li   r6, 0
			loop1:
				mul  r1, r1, r5
				xor  r1, r1, r6
				addi r6, r6, 1
				blt  r6, r5, loop1
				addi r3, r0, out
				st   r1, 8(r3)
				halt

				.org 0x9000
			out: .word 0, 0
			`)

			p := buildPlatform(20, func(b Builder) Builder {
				return b.WithNumThreads(2).WithFetchPolicy(policy)
			})
			p.load(prog, prog.Symbols["t0"], prog.Symbols["t1"])

			p.run()

			p.expectMatches(prog, 0, prog.Symbols["t0"], 0x9000)
			p.expectMatches(prog, 1, prog.Symbols["t1"], 0x9008)

			s := p.cpu.Stats()
			Expect(s.Committed).To(Equal(
				p.cpu.Context(0).Committed + p.cpu.Context(1).Committed))
			Expect(p.word(0x9000)).To(Equal(uint64(5050)))
		},
		Entry("round robin", FetchRoundRobin),
		Entry("icount", FetchICount),
	)

	It("should take an interrupt raised through the controller", func() {
		prog := isa.MustAssemble(`
			.org 0x1000
		_start:
			li   r1, 2
			li   r2, 0x200000
			st   r1, 0(r2)
			li   r3, 0
			li   r4, 300
		loop:
			addi r3, r3, 1
			blt  r3, r4, loop
			halt

			.org 0x4200
		handler:
			addi r20, r20, 1
			iret
		`)
		p := buildPlatform(20, defaultCPU)
		p.load(prog)

		p.run()

		ctx := p.cpu.Context(0)
		Expect(ctx.Regs[3]).To(Equal(uint64(300)))
		Expect(ctx.Regs[20]).To(Equal(uint64(1)))
		Expect(ctx.InHandler).To(BeFalse())
		Expect(p.cpu.Stats().Interrupts).To(Equal(uint64(1)))
		Expect(p.intc.Stats().Acknowledged).To(Equal(uint64(1)))
	})

	Context("with a mocked interrupt source", func() {
		var mockCtrl *gomock.Controller

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should return to the interrupted instruction", func() {
			prog := isa.MustAssemble(sumProgram + `
				.org 0x6000
			isr:
				addi r20, r20, 7
				iret
			`)

			src := NewMockInterruptSource(mockCtrl)
			first := src.EXPECT().Pending().Return(true)
			src.EXPECT().Pending().Return(false).AnyTimes().After(first)
			src.EXPECT().Acknowledge().Return(5, true)
			src.EXPECT().HandlerAddress(5).Return(prog.Symbols["isr"])

			p := buildPlatform(20, defaultCPU)
			p.cpu.SetInterruptSource(src)
			p.load(prog)

			p.run()

			m, _ := reference(prog, prog.Entry)
			ctx := p.cpu.Context(0)
			Expect(ctx.Regs[2]).To(Equal(m.Regs[2]))
			Expect(ctx.Regs[20]).To(Equal(uint64(7)))
			Expect(ctx.Committed).To(Equal(m.Retired + 2))
		})
	})

	It("should panic on iret outside a handler", func() {
		prog := isa.MustAssemble("nop\niret\nhalt")
		p := buildPlatform(20, defaultCPU)
		p.load(prog)
		p.cpu.Start()

		Expect(func() { _ = p.engine.Run() }).To(PanicWith(
			HaveField("PC", uint64(prog.Entry+isa.InstBytes))))
	})

	It("should restore thread contexts from its state", func() {
		prog := isa.MustAssemble(sumProgram)
		p := buildPlatform(20, defaultCPU)
		p.load(prog)
		p.run()

		raw, err := json.Marshal(p.cpu.State())
		Expect(err).NotTo(HaveOccurred())

		restored := buildPlatform(20, defaultCPU)
		Expect(restored.cpu.SetState(raw)).To(Succeed())
		Expect(restored.cpu.Context(0)).To(Equal(p.cpu.Context(0)))
		Expect(restored.cpu.Exited()).To(BeTrue())
		Expect(restored.cpu.Stats().Committed).
			To(Equal(p.cpu.Stats().Committed))
	})
})
