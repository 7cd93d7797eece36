package o3

import (
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/isa"
)

// commitStage retires finished instructions in program order. Each thread
// retires independently; a stalled thread does not block the others.
type commitStage struct {
	*Comp
}

func (s *commitStage) Tick() bool {
	madeProgress := s.takeInterrupt()

	committed := 0
	blocked := make([]bool, len(s.threads))
	keep := s.rob[:0]

	for _, d := range s.rob {
		if committed >= s.commitWidth || blocked[d.tid] || !s.canCommit(d) {
			blocked[d.tid] = true
			keep = append(keep, d)

			continue
		}

		s.commit(d)
		committed++
	}

	for i := len(keep); i < len(s.rob); i++ {
		s.rob[i] = nil
	}

	s.rob = keep

	return madeProgress || committed > 0
}

func (s *commitStage) canCommit(d *dynInst) bool {
	if d.state != stateDone {
		return false
	}

	if d.inst.IsStore() && !d.illegal {
		return len(s.storeBuf) < s.storeBufSize
	}

	return true
}

// takeInterrupt redirects thread 0 to the handler of a pending interrupt.
// Everything in flight is squashed, so the interrupt lands between two
// committed instructions.
func (s *commitStage) takeInterrupt() bool {
	if s.intCtrl == nil || s.draining {
		return false
	}

	t := s.threads[0]
	if !t.running() || t.ctx.InHandler || !s.intCtrl.Pending() {
		return false
	}

	vector, ok := s.intCtrl.Acknowledge()
	if !ok {
		return false
	}

	handler := s.intCtrl.HandlerAddress(vector)
	s.squashAfter(t, 0, handler)

	t.ctx.RetPC = t.ctx.PC
	t.ctx.InHandler = true
	t.ctx.PC = handler
	s.stats.Interrupts++

	return true
}

func (s *commitStage) commit(d *dynInst) {
	t := s.threads[d.tid]
	t.inflight--

	if d.illegal {
		s.raise(d, "illegal instruction")
	}

	if d.fault {
		s.raise(d, fmt.Sprintf("%s accesses bad address 0x%x",
			d.inst, d.out.Addr))
	}

	switch {
	case d.inst.IsLoad():
		s.stats.Loads++
		if d.forwarded {
			s.stats.ForwardedLoads++
		}

		s.lsq = removeInsts(s.lsq, func(o *dynInst) bool { return o == d })
	case d.inst.IsStore():
		s.stats.Stores++
		s.storeBuf = append(s.storeBuf, &storeEntry{
			tid:  d.tid,
			pc:   d.pc,
			addr: d.out.Addr,
			data: d.out.Value,
		})
		s.lsq = removeInsts(s.lsq, func(o *dynInst) bool { return o == d })
	case d.inst.IsBranch():
		s.stats.Branches++
		if d.mispredicted {
			s.stats.Mispredicts++
		}

		s.predictor.Update(d.tid, d.pc, d.out.Taken, d.out.NextPC)
	}

	if d.inst.WritesRd() {
		t.ctx.Regs[d.inst.Rd] = d.result
		if t.rename[d.inst.Rd] == d {
			t.rename[d.inst.Rd] = nil
		}
	}

	next := d.nextPC()

	switch d.inst.Op {
	case isa.OpHalt:
		t.ctx.Halted = true
		s.checkExit()
	case isa.OpIret:
		if !t.ctx.InHandler {
			s.raise(d, "iret outside a handler")
		}

		next = t.ctx.RetPC
		t.ctx.InHandler = false
		t.redirect(next)
	}

	t.ctx.PC = next
	t.ctx.Committed++
	s.stats.Committed++
}

func (s *commitStage) checkExit() {
	for _, t := range s.threads {
		if t.running() {
			return
		}
	}

	s.exited = true
	s.exitTime = s.CurrentTime()
}

// raise stops the simulation with a Fault. Nothing in the model can recover
// from a committed fault.
func (s *commitStage) raise(d *dynInst, what string) {
	f := &Fault{
		CPU:    s.Name(),
		Thread: d.tid,
		PC:     d.pc,
		Time:   s.CurrentTime(),
		What:   what,
	}

	log.Print(f)
	panic(f)
}
