package o3

import (
	"github.com/sarchlab/o3sim/isa"
)

// decodeStage predicts branches and steers fetch down the predicted path.
type decodeStage struct {
	*Comp
}

func (s *decodeStage) Tick() bool {
	madeProgress := false
	budget := s.decodeWidth

	n := len(s.threads)
	for i := 0; i < n && budget > 0; i++ {
		t := s.threads[(s.decodeRR+i)%n]

		for budget > 0 && t.fetchQ.Size() > 0 && t.decodeQ.CanPush() {
			d := t.fetchQ.Pop().(*dynInst)
			s.predict(t, d)
			t.decodeQ.Push(d)

			budget--
			madeProgress = true
		}
	}

	s.decodeRR = (s.decodeRR + 1) % n

	return madeProgress
}

func (s *decodeStage) predict(t *thread, d *dynInst) {
	fallThrough := d.pc + isa.InstBytes
	d.predNext = fallThrough

	if d.illegal || d.inst.IsSerializing() {
		// Nothing younger is fetched until this commits or is squashed.
		t.redirect(fallThrough)
		t.fetchBlocked = true

		return
	}

	if !d.inst.IsBranch() {
		return
	}

	p := s.predictor.Predict(t.id, d.pc)

	switch {
	case d.inst.Op == isa.OpJal:
		d.predNext = d.pc + uint64(int64(d.inst.Imm))
	case d.inst.Op == isa.OpJr:
		if p.TargetKnown {
			d.predNext = p.Target
		}
	case p.Taken:
		d.predNext = d.pc + uint64(int64(d.inst.Imm))
	}

	if d.predNext != fallThrough {
		t.redirect(d.predNext)
	}
}
