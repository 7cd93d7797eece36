package timing

import (
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

type recordingHandler struct {
	engine *SerialEngine
	trace  []int
	spawn  func(h *recordingHandler, evt *testEvent)
}

func (h *recordingHandler) Handle(e Event) error {
	evt := e.(*testEvent)
	h.trace = append(h.trace, evt.label)

	if h.spawn != nil {
		h.spawn(h, evt)
	}

	return nil
}

func scheduleLabeled(
	engine *SerialEngine,
	h Handler,
	t VTime,
	p Priority,
	label int,
) *testEvent {
	evt := &testEvent{label: label}
	evt.EventBase = MakeEventBase(t, h)
	evt.SetPriority(p)
	engine.Schedule(evt)

	return evt
}

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule events", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := NewEventBase(10, handler)
		evt2 := NewEventBase(5, handler)

		engine.Schedule(evt1)
		engine.Schedule(evt2)

		gomock.InOrder(
			handler.EXPECT().Handle(evt2).Do(func(Event) {
				Expect(engine.Now()).To(Equal(VTime(5)))
			}),
			handler.EXPECT().Handle(evt1).Do(func(Event) {
				Expect(engine.Now()).To(Equal(VTime(10)))
			}),
		)

		Expect(engine.Run()).To(Succeed())
	})

	It("should handle same-time events in scheduling order", func() {
		h := &recordingHandler{engine: engine}
		for i := 0; i < 20; i++ {
			scheduleLabeled(engine, h, 7, PriorityPrimary, i)
		}

		Expect(engine.Run()).To(Succeed())

		expected := []int{}
		for i := 0; i < 20; i++ {
			expected = append(expected, i)
		}
		Expect(h.trace).To(Equal(expected))
	})

	It("should produce the same trace for the same schedule", func() {
		runOnce := func() []int {
			e := NewSerialEngine()
			r := rand.New(rand.NewSource(42))
			counter := 0
			h := &recordingHandler{engine: e}
			h.spawn = func(h *recordingHandler, evt *testEvent) {
				if counter >= 500 {
					return
				}

				for i := 0; i < 2; i++ {
					counter++
					scheduleLabeled(e, h,
						evt.Time()+VTime(r.Intn(3)), PriorityPrimary, counter)
				}
			}
			scheduleLabeled(e, h, 0, PriorityPrimary, 0)
			Expect(e.Run()).To(Succeed())

			return h.trace
		}

		Expect(runOnce()).To(Equal(runOnce()))
	})

	It("should panic when scheduling in the past", func() {
		handler := NewMockHandler(mockCtrl)
		engine.Schedule(NewEventBase(10, handler))
		handler.EXPECT().Handle(gomock.Any())
		Expect(engine.Run()).To(Succeed())

		Expect(func() { engine.Schedule(NewEventBase(5, handler)) }).
			To(PanicWith(BeAssignableToTypeOf(&InvalidTimeError{})))
	})

	It("should cancel pending events", func() {
		h := &recordingHandler{engine: engine}
		scheduleLabeled(engine, h, 1, PriorityPrimary, 1)
		evt := scheduleLabeled(engine, h, 2, PriorityPrimary, 2)
		scheduleLabeled(engine, h, 3, PriorityPrimary, 3)

		Expect(engine.Cancel(evt)).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		Expect(h.trace).To(Equal([]int{1, 3}))
	})

	It("should refuse to cancel handled events", func() {
		h := &recordingHandler{engine: engine}
		evt := scheduleLabeled(engine, h, 1, PriorityPrimary, 1)
		Expect(engine.Run()).To(Succeed())

		err := engine.Cancel(evt)

		Expect(errors.Is(err, ErrEventNotPending)).To(BeTrue())
	})

	It("should stop at the time limit", func() {
		h := &recordingHandler{engine: engine}
		scheduleLabeled(engine, h, 10, PriorityPrimary, 1)
		scheduleLabeled(engine, h, 30, PriorityPrimary, 2)

		reason, err := engine.RunUntil(20)

		Expect(err).NotTo(HaveOccurred())
		Expect(reason).To(Equal(StopTimeLimit))
		Expect(engine.Now()).To(Equal(VTime(20)))
		Expect(h.trace).To(Equal([]int{1}))
		Expect(engine.PendingEvents()).To(Equal(1))
	})

	It("should stop when halted", func() {
		h := &recordingHandler{engine: engine}
		h.spawn = func(h *recordingHandler, evt *testEvent) {
			if evt.label == 2 {
				engine.Halt()
			}
		}
		scheduleLabeled(engine, h, 1, PriorityPrimary, 1)
		scheduleLabeled(engine, h, 2, PriorityPrimary, 2)
		scheduleLabeled(engine, h, 3, PriorityPrimary, 3)

		reason, err := engine.RunUntil(MaxVTime)

		Expect(err).NotTo(HaveOccurred())
		Expect(reason).To(Equal(StopHalted))
		Expect(h.trace).To(Equal([]int{1, 2}))
	})

	It("should return handler errors", func() {
		handler := NewMockHandler(mockCtrl)
		engine.Schedule(NewEventBase(1, handler))
		handler.EXPECT().Handle(gomock.Any()).Return(errors.New("boom"))

		Expect(engine.Run()).To(MatchError("boom"))
	})

	It("should invoke hooks around events", func() {
		positions := []string{}
		engine.AcceptHook(hookFunc(func(pos string) {
			positions = append(positions, pos)
		}))
		handler := NewMockHandler(mockCtrl)
		handler.EXPECT().Handle(gomock.Any())
		engine.Schedule(NewEventBase(1, handler))

		Expect(engine.Run()).To(Succeed())

		Expect(positions).To(Equal([]string{"BeforeEvent", "AfterEvent"}))
	})
})
