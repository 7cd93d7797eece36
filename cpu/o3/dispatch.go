package o3

// dispatchStage renames decoded instructions and places them in the reorder
// buffer, the instruction queue, and the load-store queue.
type dispatchStage struct {
	*Comp
}

func (s *dispatchStage) Tick() bool {
	madeProgress := false
	budget := s.dispatchWidth
	robFull, iqFull := false, false

	n := len(s.threads)
	for i := 0; i < n && budget > 0; i++ {
		t := s.threads[(s.dispatchRR+i)%n]

		for budget > 0 && t.decodeQ.Size() > 0 {
			d := t.decodeQ.Peek().(*dynInst)

			if len(s.rob) >= s.robSize {
				robFull = true
				break
			}

			if d.needsIQ() && len(s.iq) >= s.iqSize {
				iqFull = true
				break
			}

			if d.inst.IsMem() && !d.illegal && len(s.lsq) >= s.lsqSize {
				break
			}

			t.decodeQ.Pop()
			s.dispatch(t, d)

			budget--
			madeProgress = true
		}
	}

	s.dispatchRR = (s.dispatchRR + 1) % n

	if robFull {
		s.stats.ROBFullCycles++
	}

	if iqFull {
		s.stats.IQFullCycles++
	}

	return madeProgress
}

func (s *dispatchStage) dispatch(t *thread, d *dynInst) {
	if !d.illegal {
		for i, reg := range d.inst.SrcRegs() {
			d.srcs[i], d.vals[i] = t.lookup(reg)
		}

		if d.inst.WritesRd() {
			t.rename[d.inst.Rd] = d
		}
	}

	s.rob = append(s.rob, d)
	t.inflight++

	if !d.needsIQ() {
		d.state = stateDone
		return
	}

	d.state = stateWaiting
	s.iq = append(s.iq, d)

	if d.inst.IsMem() {
		s.lsq = append(s.lsq, d)
	}
}
