package queueing

import (
	"github.com/sarchlab/o3sim/sim/hooking"
	"github.com/sarchlab/o3sim/sim/naming"
)

// PipelineItem is an item that can pass through a pipeline.
type PipelineItem interface {
	TaskID() string
}

// Pipeline delays items by a fixed number of cycles. The width bounds how
// many items enter per stage time.
type Pipeline interface {
	naming.Named
	hooking.Hookable

	// Tick moves elements in the pipeline forward.
	Tick() (madeProgress bool)

	// CanAccept checks if the pipeline can accept a new element.
	CanAccept() bool

	// Accept adds an element to the pipeline. It panics if CanAccept is
	// false.
	Accept(elem PipelineItem)

	// Clear discards all the items that are currently in the pipeline.
	Clear()

	// Remove discards the items that the filter selects.
	Remove(filter func(elem PipelineItem) bool) int

	// Len returns the number of items inside the pipeline stages.
	Len() int
}

type pipelineSlot struct {
	elem      PipelineItem
	elapsed   int
	cycleLeft int
}

// pipelineImpl keeps the items in acceptance order. Every item needs
// numStage*cyclePerStage ticks before it can leave, and it leaves only after
// every older item has left.
type pipelineImpl struct {
	hooking.HookableBase

	name            string
	width           int
	numStage        int
	cyclePerStage   int
	slots           []*pipelineSlot
	postPipelineBuf Buffer
}

func (p *pipelineImpl) Name() string {
	return p.name
}

func (p *pipelineImpl) latency() int {
	return p.numStage * p.cyclePerStage
}

// Clear discards all the items in the pipeline.
func (p *pipelineImpl) Clear() {
	p.slots = p.slots[:0]
}

// Remove discards the selected items.
func (p *pipelineImpl) Remove(filter func(elem PipelineItem) bool) int {
	kept := p.slots[:0]

	for _, s := range p.slots {
		if !filter(s.elem) {
			kept = append(kept, s)
		}
	}

	removed := len(p.slots) - len(kept)
	for i := len(kept); i < len(p.slots); i++ {
		p.slots[i] = nil
	}

	p.slots = kept

	return removed
}

// Len counts the items in the pipeline.
func (p *pipelineImpl) Len() int {
	return len(p.slots)
}

// Tick ages every item by one cycle and moves the ready ones, oldest first,
// into the post-pipeline buffer.
func (p *pipelineImpl) Tick() (madeProgress bool) {
	blocked := false
	left := p.slots[:0]

	for _, s := range p.slots {
		s.elapsed++

		if s.cycleLeft > 1 {
			s.cycleLeft--
			madeProgress = true
			left = append(left, s)

			continue
		}

		if blocked || !p.postPipelineBuf.CanPush() {
			blocked = true
			left = append(left, s)

			continue
		}

		p.postPipelineBuf.Push(s.elem)
		madeProgress = true
	}

	for i := len(left); i < len(p.slots); i++ {
		p.slots[i] = nil
	}

	p.slots = left

	return madeProgress
}

// CanAccept checks if the first stage has a free lane.
func (p *pipelineImpl) CanAccept() bool {
	if p.numStage == 0 {
		return p.postPipelineBuf.CanPush()
	}

	if len(p.slots) >= p.width*p.numStage {
		return false
	}

	inFirstStage := 0

	for _, s := range p.slots {
		if s.elapsed < p.cyclePerStage {
			inFirstStage++
		}
	}

	return inFirstStage < p.width
}

// Accept adds an element to the pipeline. It panics if the first stage has no
// free lane.
func (p *pipelineImpl) Accept(elem PipelineItem) {
	if p.numStage == 0 {
		p.postPipelineBuf.Push(elem)
		return
	}

	if !p.CanAccept() {
		panic("pipeline is not free, check CanAccept before Accept")
	}

	p.slots = append(p.slots, &pipelineSlot{
		elem:      elem,
		cycleLeft: p.latency(),
	})
}

// A PipelineBuilder can build pipelines.
type PipelineBuilder struct {
	width           int
	numStage        int
	cyclePerStage   int
	postPipelineBuf Buffer
}

// MakePipelineBuilder creates a default builder
func MakePipelineBuilder() PipelineBuilder {
	return PipelineBuilder{
		width:         1,
		numStage:      5,
		cyclePerStage: 1,
	}
}

// WithPipelineWidth sets the number of lanes in the pipeline. If width=4,
// 4 elements can be in the same stage at the same time.
func (b PipelineBuilder) WithPipelineWidth(n int) PipelineBuilder {
	b.width = n
	return b
}

// WithNumStage sets the number of pipeline stages
func (b PipelineBuilder) WithNumStage(n int) PipelineBuilder {
	b.numStage = n
	return b
}

// WithCyclePerStage sets the the number of cycles that each element needs to
// stage in each stage.
func (b PipelineBuilder) WithCyclePerStage(n int) PipelineBuilder {
	b.cyclePerStage = n
	return b
}

// WithPostPipelineBuffer sets the buffer that the elements can be pushed to
// after passing through the pipeline.
func (b PipelineBuilder) WithPostPipelineBuffer(buf Buffer) PipelineBuilder {
	b.postPipelineBuf = buf
	return b
}

// Build builds a pipeline.
func (b PipelineBuilder) Build(name string) Pipeline {
	naming.NameMustBeValid(name)

	if b.postPipelineBuf == nil {
		panic("pipeline requires a post-pipeline buffer")
	}

	if b.width < 1 || b.cyclePerStage < 1 || b.numStage < 0 {
		panic("pipeline needs a positive width and cycles per stage")
	}

	return &pipelineImpl{
		name:            name,
		width:           b.width,
		numStage:        b.numStage,
		cyclePerStage:   b.cyclePerStage,
		postPipelineBuf: b.postPipelineBuf,
	}
}
