package queueing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type pipelineItem struct {
	taskID string
}

func (p pipelineItem) TaskID() string {
	return p.taskID
}

var _ = Describe("Pipeline", func() {
	var (
		postPipelineBuffer Buffer
		pipeline           Pipeline
	)

	BeforeEach(func() {
		postPipelineBuffer = NewBuffer("PostPipelineBuffer", 1)
		pipeline = MakePipelineBuilder().
			WithPipelineWidth(1).
			WithNumStage(100).
			WithCyclePerStage(2).
			WithPostPipelineBuffer(postPipelineBuffer).
			Build("Pipeline")
	})

	It("should process items in pipeline", func() {
		item1 := pipelineItem{taskID: "1"}
		item2 := pipelineItem{taskID: "2"}

		Expect(pipeline.CanAccept()).To(BeTrue())
		pipeline.Accept(item1)
		Expect(pipeline.CanAccept()).To(BeFalse())

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.CanAccept()).To(BeFalse())

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.CanAccept()).To(BeTrue())
		pipeline.Accept(item2)

		for i := 2; i < 199; i++ {
			Expect(pipeline.Tick()).To(BeTrue())
			Expect(postPipelineBuffer.Size()).To(Equal(0))
		}

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(postPipelineBuffer.Size()).To(Equal(1))
		Expect(postPipelineBuffer.Peek()).To(Equal(item1))

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(postPipelineBuffer.Peek()).To(Equal(item1))

		Expect(pipeline.Tick()).To(BeFalse())
		Expect(postPipelineBuffer.Pop()).To(Equal(item1))

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(postPipelineBuffer.Peek()).To(Equal(item2))
	})

	It("should deliver after the number of stages when a stage takes a cycle",
		func() {
			buf := NewBuffer("Out", 4)
			p := MakePipelineBuilder().
				WithNumStage(3).
				WithPostPipelineBuffer(buf).
				Build("TagPipeline")

			p.Accept(pipelineItem{taskID: "a"})
			p.Tick()
			p.Tick()
			Expect(buf.Size()).To(Equal(0))

			p.Tick()
			Expect(buf.Size()).To(Equal(1))
		})

	It("should accept one item per lane each stage time", func() {
		buf := NewBuffer("Out", 4)
		p := MakePipelineBuilder().
			WithPipelineWidth(2).
			WithNumStage(2).
			WithPostPipelineBuffer(buf).
			Build("Wide")

		p.Accept(pipelineItem{taskID: "a"})
		p.Accept(pipelineItem{taskID: "b"})
		Expect(p.CanAccept()).To(BeFalse())

		p.Tick()
		Expect(p.CanAccept()).To(BeTrue())
		p.Accept(pipelineItem{taskID: "c"})

		p.Tick()
		Expect(buf.Size()).To(Equal(2))
		Expect(buf.Pop()).To(Equal(pipelineItem{taskID: "a"}))
		Expect(buf.Pop()).To(Equal(pipelineItem{taskID: "b"}))

		p.Tick()
		Expect(buf.Pop()).To(Equal(pipelineItem{taskID: "c"}))
		Expect(p.Len()).To(Equal(0))
	})

	It("should keep younger items behind a blocked item", func() {
		buf := NewBuffer("Out", 1)
		p := MakePipelineBuilder().
			WithNumStage(2).
			WithPostPipelineBuffer(buf).
			Build("InOrder")

		buf.Push(pipelineItem{taskID: "full"})
		p.Accept(pipelineItem{taskID: "a"})
		p.Tick()
		p.Accept(pipelineItem{taskID: "b"})
		p.Tick()
		Expect(p.Tick()).To(BeFalse())
		Expect(p.CanAccept()).To(BeFalse())

		buf.Pop()
		Expect(p.Tick()).To(BeTrue())
		Expect(buf.Pop()).To(Equal(pipelineItem{taskID: "a"}))

		p.Tick()
		Expect(buf.Pop()).To(Equal(pipelineItem{taskID: "b"}))
	})

	It("should bypass when there is no stage", func() {
		buf := NewBuffer("Out", 1)
		p := MakePipelineBuilder().
			WithNumStage(0).
			WithPostPipelineBuffer(buf).
			Build("Bypass")

		p.Accept(pipelineItem{taskID: "a"})

		Expect(buf.Size()).To(Equal(1))
		Expect(p.CanAccept()).To(BeFalse())
	})

	It("should remove selected items", func() {
		pipeline.Accept(pipelineItem{taskID: "x"})

		Expect(pipeline.Remove(func(e PipelineItem) bool {
			return e.TaskID() == "x"
		})).To(Equal(1))
		Expect(pipeline.Len()).To(Equal(0))
	})
})
