package o3

import (
	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/timing"
)

type instState int

const (
	stateWaiting instState = iota
	stateExecuting
	stateMemory
	stateDone
)

func (s instState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateExecuting:
		return "executing"
	case stateMemory:
		return "memory"
	case stateDone:
		return "done"
	}

	return "unknown"
}

// dynInst is an instruction in flight.
type dynInst struct {
	seq uint64
	tid int
	pc  uint64

	inst    isa.Inst
	illegal bool

	// predNext is where fetch went after this instruction.
	predNext uint64

	// A nil producer means the operand value was read from the
	// architectural registers at dispatch.
	srcs [2]*dynInst
	vals [2]uint64

	state  instState
	out    isa.Outcome
	result uint64

	// fault is set for loads and stores with an address the memory
	// cannot serve. It only matters if the instruction commits.
	fault bool

	mispredicted bool

	// forwarded tells that a load took its value from an older store.
	forwarded bool

	evt      *execDoneEvent
	loadReq  *mem.ReadReq
	squashed bool
}

func (d *dynInst) needsIQ() bool {
	if d.illegal {
		return false
	}

	switch d.inst.Op {
	case isa.OpNop, isa.OpHalt, isa.OpIret:
		return false
	}

	return true
}

func (d *dynInst) ready() bool {
	for _, p := range d.srcs {
		if p != nil && p.state != stateDone {
			return false
		}
	}

	return true
}

func (d *dynInst) operand(i int) uint64 {
	if p := d.srcs[i]; p != nil {
		return p.result
	}

	return d.vals[i]
}

// nextPC is the address of the instruction that follows in program order.
// It is only meaningful once the instruction is done.
func (d *dynInst) nextPC() uint64 {
	if d.inst.IsBranch() && !d.illegal {
		return d.out.NextPC
	}

	return d.pc + isa.InstBytes
}

func (d *dynInst) overlaps(addr uint64) bool {
	return d.out.Addr < addr+isa.WordBytes && addr < d.out.Addr+isa.WordBytes
}

// execDoneEvent marks the end of the execution latency of an instruction.
type execDoneEvent struct {
	timing.EventBase
	inst *dynInst
}

// Completions are handled before the ticks of the same cycle so that
// dependent instructions can issue in the completion cycle.
const completionPriority = timing.PriorityPrimary - 1

func newExecDoneEvent(
	t timing.VTime,
	handler timing.Handler,
	inst *dynInst,
) *execDoneEvent {
	evt := &execDoneEvent{inst: inst}
	evt.EventBase = timing.MakeEventBase(t, handler)
	evt.SetPriority(completionPriority)

	return evt
}
