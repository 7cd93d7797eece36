package o3

import (
	"fmt"

	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/queueing"
)

// ThreadContext is the architectural state of a hardware thread.
type ThreadContext struct {
	Active bool                `json:"active"`
	Halted bool                `json:"halted"`
	PC     uint64              `json:"pc"`
	Regs   [isa.NumRegs]uint64 `json:"regs"`

	// InHandler is set between taking an interrupt and the iret of its
	// handler. RetPC is where iret returns.
	InHandler bool   `json:"in_handler"`
	RetPC     uint64 `json:"ret_pc"`

	Committed uint64 `json:"committed"`
}

type thread struct {
	id  int
	ctx ThreadContext

	fetchPC      uint64
	fetchBlocked bool
	fetchReq     *mem.ReadReq

	fetchQ  queueing.Buffer
	decodeQ queueing.Buffer

	// rename maps a register to its youngest in-flight producer.
	rename [isa.NumRegs]*dynInst

	// inflight counts the dispatched instructions that have not committed.
	inflight int
}

func newThread(cpuName string, id, fetchQSize, decodeQSize int) *thread {
	return &thread{
		id:      id,
		fetchQ:  queueing.NewBuffer(fmt.Sprintf("%s.FetchQ[%d]", cpuName, id), fetchQSize),
		decodeQ: queueing.NewBuffer(fmt.Sprintf("%s.DecodeQ[%d]", cpuName, id), decodeQSize),
	}
}

// running tells if the thread has work to fetch or commit.
func (t *thread) running() bool {
	return t.ctx.Active && !t.ctx.Halted
}

func (t *thread) icount() int {
	return t.fetchQ.Size() + t.decodeQ.Size() + t.inflight
}

// redirect restarts fetch at pc. Fetched instructions that have not been
// decoded are dropped, as is the response to an outstanding fetch.
func (t *thread) redirect(pc uint64) int {
	dropped := t.fetchQ.Size()

	t.fetchQ.Clear()
	t.fetchReq = nil
	t.fetchBlocked = false
	t.fetchPC = pc

	return dropped
}

func (t *thread) lookup(reg uint8) (*dynInst, uint64) {
	if reg == 0 {
		return nil, 0
	}

	if p := t.rename[reg]; p != nil {
		return p, 0
	}

	return nil, t.ctx.Regs[reg]
}

func (t *thread) load(ctx ThreadContext) {
	t.ctx = ctx
	t.ctx.Regs[0] = 0
	t.rename = [isa.NumRegs]*dynInst{}
	t.inflight = 0
	t.decodeQ.Clear()
	t.redirect(ctx.PC)
}
