package o3

import (
	"github.com/sarchlab/o3sim/isa"
)

// issueStage sends the oldest ready instructions to the functional units.
// Loads and stores only compute their addresses here.
type issueStage struct {
	*Comp
}

func (s *issueStage) Tick() bool {
	issued := 0
	keep := s.iq[:0]

	for _, d := range s.iq {
		if issued >= s.issueWidth || !d.ready() {
			keep = append(keep, d)
			continue
		}

		s.issue(d)
		issued++
	}

	for i := len(keep); i < len(s.iq); i++ {
		s.iq[i] = nil
	}

	s.iq = keep

	return issued > 0
}

func (s *issueStage) issue(d *dynInst) {
	d.out = isa.Execute(d.inst, d.pc, d.operand(0), d.operand(1))
	d.state = stateExecuting

	latency := d.inst.Latency()
	d.evt = newExecDoneEvent(
		s.Freq.NCyclesLater(latency, s.CurrentTime()), s.Comp, d)
	s.Engine.Schedule(d.evt)
}
