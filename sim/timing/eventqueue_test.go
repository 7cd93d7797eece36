package timing

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type testEvent struct {
	EventBase
	label int
}

func newTestEvent(t VTime, p Priority, label int) *testEvent {
	evt := &testEvent{label: label}
	evt.EventBase = MakeEventBase(t, nil)
	evt.SetPriority(p)

	return evt
}

func popLabels(q EventQueue) []int {
	labels := []int{}
	for q.Len() > 0 {
		labels = append(labels, q.Pop().(*testEvent).label)
	}

	return labels
}

func describeQueue(name string, create func() EventQueue) {
	Describe(name, func() {
		var q EventQueue

		BeforeEach(func() {
			q = create()
		})

		It("should pop in time order", func() {
			r := rand.New(rand.NewSource(1))

			for i := 0; i < 200; i++ {
				q.Push(newTestEvent(VTime(r.Intn(1000)), PriorityPrimary, i))
			}

			last := VTime(0)
			for q.Len() > 0 {
				evt := q.Pop()
				Expect(evt.Time()).To(BeNumerically(">=", last))
				last = evt.Time()
			}
		})

		It("should keep scheduling order for equal time and priority", func() {
			for i := 0; i < 10; i++ {
				q.Push(newTestEvent(5, PriorityPrimary, i))
			}

			Expect(popLabels(q)).To(Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))
		})

		It("should order by priority within the same time", func() {
			q.Push(newTestEvent(5, PrioritySecondary, 0))
			q.Push(newTestEvent(5, PriorityPrimary, 1))
			q.Push(newTestEvent(4, PrioritySecondary, 2))

			Expect(popLabels(q)).To(Equal([]int{2, 1, 0}))
		})

		It("should peek without removing", func() {
			q.Push(newTestEvent(3, PriorityPrimary, 0))

			Expect(q.Peek().(*testEvent).label).To(Equal(0))
			Expect(q.Len()).To(Equal(1))
		})

		It("should return nil when empty", func() {
			Expect(q.Pop()).To(BeNil())
			Expect(q.Peek()).To(BeNil())
		})

		It("should remove pending events", func() {
			evts := []*testEvent{}
			for i := 0; i < 5; i++ {
				evt := newTestEvent(VTime(i), PriorityPrimary, i)
				evts = append(evts, evt)
				q.Push(evt)
			}

			Expect(q.Remove(evts[2].ID())).To(BeTrue())
			Expect(q.Remove(evts[2].ID())).To(BeFalse())
			Expect(popLabels(q)).To(Equal([]int{0, 1, 3, 4}))
		})
	})
}

var _ = Describe("EventQueue", func() {
	describeQueue("EventQueueImpl", func() EventQueue {
		return NewEventQueue()
	})

	describeQueue("OrderedEventQueue", func() EventQueue {
		return NewOrderedEventQueue()
	})
})
