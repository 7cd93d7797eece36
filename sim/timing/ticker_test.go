package timing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/o3sim/sim/hooking"
)

func hookFunc(f func(pos string)) hooking.Hook {
	return hooking.HookFunc(func(ctx hooking.HookCtx) {
		f(ctx.Pos.Name)
	})
}

type tickingHandler struct {
	*TickScheduler
	ticker Ticker
	ticks  []VTime
}

func (h *tickingHandler) Handle(e Event) error {
	h.ticks = append(h.ticks, e.Time())
	if h.ticker.Tick() {
		h.TickLater()
	}

	return nil
}

var _ = Describe("TickScheduler", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
		ticker   *MockTicker
		handler  *tickingHandler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
		ticker = NewMockTicker(mockCtrl)
		handler = &tickingHandler{ticker: ticker}
		handler.TickScheduler = NewTickScheduler(handler, engine, 1*GHz)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should keep ticking while making progress", func() {
		gomock.InOrder(
			ticker.EXPECT().Tick().Return(true),
			ticker.EXPECT().Tick().Return(true),
			ticker.EXPECT().Tick().Return(false),
		)

		handler.TickNow()
		Expect(engine.Run()).To(Succeed())

		Expect(handler.ticks).To(Equal([]VTime{0, 1000, 2000}))
	})

	It("should not schedule duplicated ticks", func() {
		ticker.EXPECT().Tick().Return(false)

		handler.TickLater()
		handler.TickLater()
		handler.TickNow()
		Expect(engine.Run()).To(Succeed())

		Expect(handler.ticks).To(Equal([]VTime{1000}))
	})

	It("should tick in lockstep with other members of the domain", func() {
		domain := NewClockDomain("CPUClk", 3*GHz, nil)
		other := &tickingHandler{ticker: NewMockTicker(mockCtrl)}
		other.TickScheduler = NewTickScheduler(other, engine, domain.Freq())
		handler.TickScheduler = NewTickScheduler(handler, engine, domain.Freq())

		ticker.EXPECT().Tick().Return(true).Times(2)
		ticker.EXPECT().Tick().Return(false)
		other.ticker.(*MockTicker).EXPECT().Tick().Return(false)

		handler.TickNow()
		engine.Schedule(NewCallbackEvent(400, func(VTime) {
			other.TickLater()
		}))
		Expect(engine.Run()).To(Succeed())

		Expect(handler.ticks).To(Equal([]VTime{0, 333, 666}))
		Expect(other.ticks).To(Equal([]VTime{666}))
	})
})

var _ = Describe("Freq", func() {
	It("should convert frequency to period", func() {
		Expect((1 * GHz).Period()).To(Equal(VTime(1000)))
		Expect((3 * GHz).Period()).To(Equal(VTime(333)))
	})

	It("should find clock edges", func() {
		f := 1 * GHz

		Expect(f.ThisTick(1000)).To(Equal(VTime(1000)))
		Expect(f.ThisTick(1001)).To(Equal(VTime(2000)))
		Expect(f.NextTick(1000)).To(Equal(VTime(2000)))
		Expect(f.NCyclesLater(3, 1500)).To(Equal(VTime(5000)))
		Expect(f.Cycle(4999)).To(Equal(uint64(4)))
	})

	It("should reject non-positive frequencies", func() {
		Expect(func() { Freq(0).Period() }).To(Panic())
	})

	It("should print with units", func() {
		Expect((3 * GHz).String()).To(Equal("3GHz"))
	})
})

var _ = Describe("ClockDomain", func() {
	It("should record members", func() {
		vd := &VoltageDomain{Name: "VDD", Voltage: 1.0}
		d := NewClockDomain("SysClk", 1*GHz, vd)
		d.Subscribe("System.CPU")
		d.Subscribe("System.L2")

		Expect(d.Members()).To(Equal([]string{"System.CPU", "System.L2"}))
		Expect(d.Voltage()).To(BeIdenticalTo(vd))
		Expect(d.Period()).To(Equal(VTime(1000)))
	})
})
