package tracing

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/o3sim/datarecording"
	"github.com/sarchlab/o3sim/sim/hooking"
	"github.com/sarchlab/o3sim/sim/timing"
)

type fakeTime struct {
	now timing.VTime
}

func (t *fakeTime) Now() timing.VTime {
	return t.now
}

type hookableDomain struct {
	hooking.HookableBase
	name string
}

func (d *hookableDomain) Name() string {
	return d.name
}

var _ = Describe("API", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *MockNamedHookable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = NewMockNamedHookable(mockCtrl)
		domain.EXPECT().NumHooks().Return(1).AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic if ID is not given", func() {
		domain.EXPECT().Name().Return("domain").AnyTimes()
		Expect(func() {
			StartTask("", "123", domain, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if domain is nil", func() {
		Expect(func() {
			StartTask("id", "123", nil, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if the domain has no name", func() {
		domain.EXPECT().Name().Return("").AnyTimes()
		Expect(func() {
			StartTask("id", "123", domain, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if kind is empty", func() {
		domain.EXPECT().Name().Return("domain").AnyTimes()
		Expect(func() {
			StartTask("id", "123", domain, "", "what", nil)
		}).Should(Panic())
	})

	It("should invoke the hook with the task", func() {
		domain.EXPECT().Name().Return("domain").AnyTimes()
		domain.EXPECT().InvokeHook(gomock.Any()).Do(func(ctx hooking.HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosTaskStart))
			task := ctx.Item.(Task)
			Expect(task.ID).To(Equal("id"))
			Expect(task.Where).To(Equal("domain"))
		})

		StartTask("id", "", domain, "kind", "what", nil)
	})

	It("should skip domains without hooks", func() {
		quiet := NewMockNamedHookable(mockCtrl)
		quiet.EXPECT().NumHooks().Return(0).AnyTimes()

		StartTask("", "", quiet, "", "", nil)
		AddTaskStep("id", quiet, "step")
		EndTask("id", quiet)
	})
})

var _ = Describe("CollectTrace", func() {
	It("should not attach the same tracer twice", func() {
		d := &hookableDomain{name: "Cache"}
		tracer := NewStepCountTracer(nil)

		CollectTrace(d, tracer)

		Expect(d.NumHooks()).To(Equal(1))
		Expect(func() { CollectTrace(d, tracer) }).To(Panic())
	})
})

var _ = Describe("LatencyTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		tracer     *LatencyTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		tracer = NewLatencyTracer(timeTeller, KindIs("req_in"))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should sum, average, and track the max", func() {
		timeTeller.EXPECT().Now().Return(timing.VTime(10))
		tracer.StartTask(Task{ID: "1", Kind: "req_in"})
		timeTeller.EXPECT().Now().Return(timing.VTime(12))
		tracer.StartTask(Task{ID: "2", Kind: "req_in"})
		timeTeller.EXPECT().Now().Return(timing.VTime(20))
		tracer.EndTask(Task{ID: "1"})
		timeTeller.EXPECT().Now().Return(timing.VTime(42))
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.TotalTime()).To(Equal(timing.VTime(40)))
		Expect(tracer.AverageTime()).To(BeNumerically("==", 20))
		Expect(tracer.MaxTime()).To(Equal(timing.VTime(30)))
		Expect(tracer.TotalCount()).To(Equal(uint64(2)))
	})

	It("should ignore tasks rejected by the filter", func() {
		tracer.StartTask(Task{ID: "1", Kind: "req_out"})
		timeTeller.EXPECT().Now().Return(timing.VTime(20))
		tracer.EndTask(Task{ID: "1"})

		Expect(tracer.TotalCount()).To(BeZero())
		Expect(tracer.InflightCount()).To(BeZero())
	})
})

var _ = Describe("BusyTimeTracer", func() {
	var (
		clock  *fakeTime
		tracer *BusyTimeTracer
	)

	BeforeEach(func() {
		clock = &fakeTime{}
		tracer = NewBusyTimeTracer(clock, nil)
	})

	at := func(t timing.VTime, f func()) {
		clock.now = t
		f()
	}

	It("should count overlapping tasks once", func() {
		at(0, func() { tracer.StartTask(Task{ID: "a"}) })
		at(5, func() { tracer.StartTask(Task{ID: "b"}) })
		at(10, func() { tracer.EndTask(Task{ID: "a"}) })
		at(15, func() { tracer.EndTask(Task{ID: "b"}) })

		Expect(tracer.BusyTime()).To(Equal(timing.VTime(15)))
	})

	It("should add gaps separately", func() {
		at(0, func() { tracer.StartTask(Task{ID: "a"}) })
		at(10, func() { tracer.EndTask(Task{ID: "a"}) })
		at(20, func() { tracer.StartTask(Task{ID: "b"}) })
		at(25, func() { tracer.EndTask(Task{ID: "b"}) })

		Expect(tracer.BusyTime()).To(Equal(timing.VTime(15)))
	})

	It("should wait for a long task before folding an inner one", func() {
		at(0, func() { tracer.StartTask(Task{ID: "outer"}) })
		at(2, func() { tracer.StartTask(Task{ID: "inner"}) })
		at(4, func() { tracer.EndTask(Task{ID: "inner"}) })

		Expect(tracer.BusyTime()).To(BeZero())

		tracer.TerminateAllTasks(30)

		Expect(tracer.BusyTime()).To(Equal(timing.VTime(30)))
	})
})

var _ = Describe("StepCountTracer", func() {
	It("should count steps and tasks with steps", func() {
		tracer := NewStepCountTracer(nil)

		tracer.StartTask(Task{ID: "1"})
		tracer.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "hit"}}})
		tracer.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "hit"}}})
		tracer.StartTask(Task{ID: "2"})
		tracer.StepTask(Task{ID: "2", Steps: []TaskStep{{What: "miss"}}})
		tracer.EndTask(Task{ID: "1"})
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.GetStepNames()).To(Equal([]string{"hit", "miss"}))
		Expect(tracer.GetStepCount("hit")).To(Equal(uint64(2)))
		Expect(tracer.GetTaskCount("hit")).To(Equal(uint64(1)))
		Expect(tracer.GetTaskCount("miss")).To(Equal(uint64(1)))
	})
})

var _ = Describe("BackTraceTracer", func() {
	It("should print the chain of in-flight parents", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		defer mockCtrl.Finish()

		printer := NewMockTaskPrinter(mockCtrl)
		tracer := NewBackTraceTracer(printer)

		parent := Task{ID: "p", Kind: "req_in", What: "read", Where: "L1"}
		child := Task{ID: "c", ParentID: "p", Kind: "req_out", What: "read"}

		tracer.StartTask(parent)
		tracer.StartTask(child)

		gomock.InOrder(
			printer.EXPECT().Print(child),
			printer.EXPECT().Print(parent),
		)

		tracer.DumpBackTrace(child)
		Expect(tracer.InflightTasks()).To(HaveLen(2))
	})
})

var _ = Describe("DBTracer", func() {
	It("should store completed and unfinished tasks", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		recorder := datarecording.New(path)
		clock := &fakeTime{}
		tracer := NewDBTracer(clock, recorder)

		clock.now = 100
		tracer.StartTask(Task{ID: "1", Kind: "req_in", What: "read", Where: "L1"})
		tracer.StartTask(Task{ID: "2", Kind: "req_in", What: "write", Where: "L1"})
		clock.now = 150
		tracer.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "hit"}}})
		clock.now = 200
		tracer.EndTask(Task{ID: "1"})
		clock.now = 300
		tracer.Terminate()
		Expect(recorder.Close()).To(Succeed())

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable("trace", taskTableEntry{})
		results, total, err := reader.Query(context.Background(), "trace",
			datarecording.QueryParams{OrderBy: "ID"})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(2))
		Expect(results[0]).To(Equal(&taskTableEntry{
			ID: "1", Kind: "req_in", What: "read", Location: "L1",
			StartTime: 100, EndTime: 200,
		}))
		Expect(results[1].(*taskTableEntry).EndTime).To(Equal(uint64(300)))
	})
})
