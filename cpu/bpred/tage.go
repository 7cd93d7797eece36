package bpred

// tageEntry is an entry of a tagged table. The counter ranges over
// [-4, 3]; non-negative values predict taken.
type tageEntry struct {
	valid  bool
	tag    uint16
	ctr    int8
	useful uint8
}

type tageTable struct {
	entries []tageEntry
	histLen int
}

// tage is a TAGE direction predictor: a bimodal base table plus tagged tables
// indexed with geometrically longer global histories. The longest matching
// table provides the prediction.
type tage struct {
	base    *bimodal
	tables  []tageTable
	mask    uint64
	tagMask uint64
	history []uint64

	updates     uint64
	resetPeriod uint64
}

func newTage(cfg Config) *tage {
	t := &tage{
		base:        newBimodal(cfg.TableSize),
		mask:        uint64(cfg.TableSize/4 - 1),
		tagMask:     lowBits(cfg.TagBits),
		history:     make([]uint64, cfg.NumThreads),
		resetPeriod: 1 << 18,
	}

	if cfg.TableSize < 4 {
		t.mask = 0
	}

	histLen := 4
	for range cfg.NumTaggedTables {
		t.tables = append(t.tables, tageTable{
			entries: make([]tageEntry, t.mask+1),
			histLen: min(histLen, 64),
		})
		histLen *= 2
	}

	return t
}

// fold compresses the low n bits of h into width bits by xor.
func fold(h uint64, n, width int) uint64 {
	h &= lowBits(n)

	var out uint64
	for h != 0 {
		out ^= h & lowBits(width)
		h >>= width
	}

	return out
}

func (t *tage) widthOf(mask uint64) int {
	w := 0
	for mask != 0 {
		w++
		mask >>= 1
	}

	return max(w, 1)
}

func (t *tage) index(i int, tid int, pc uint64) uint64 {
	tbl := t.tables[i]
	w := t.widthOf(t.mask)
	h := fold(t.history[tid], tbl.histLen, w)

	return ((pc >> 3) ^ (pc >> uint(3+w)) ^ h ^ uint64(i)) & t.mask
}

func (t *tage) tag(i int, tid int, pc uint64) uint16 {
	tbl := t.tables[i]
	w := t.widthOf(t.tagMask)
	h := fold(t.history[tid], tbl.histLen, w)
	h2 := fold(t.history[tid], tbl.histLen, max(w-1, 1))

	return uint16(((pc >> 3) ^ h ^ (h2 << 1)) & t.tagMask)
}

type tageLookup struct {
	provider, alt int
	providerIdx   uint64
	altIdx        uint64
	pred, altPred bool
	weakNew       bool
}

func (t *tage) lookup(tid int, pc uint64) tageLookup {
	l := tageLookup{provider: -1, alt: -1}

	for i := len(t.tables) - 1; i >= 0; i-- {
		idx := t.index(i, tid, pc)
		e := t.tables[i].entries[idx]

		if !e.valid || e.tag != t.tag(i, tid, pc) {
			continue
		}

		if l.provider < 0 {
			l.provider = i
			l.providerIdx = idx
		} else {
			l.alt = i
			l.altIdx = idx

			break
		}
	}

	basePred := t.base.table[t.base.index(pc)].taken()

	l.altPred = basePred
	if l.alt >= 0 {
		l.altPred = t.tables[l.alt].entries[l.altIdx].ctr >= 0
	}

	if l.provider < 0 {
		l.pred = basePred
		return l
	}

	e := t.tables[l.provider].entries[l.providerIdx]
	l.pred = e.ctr >= 0
	l.weakNew = e.useful == 0 && (e.ctr == 0 || e.ctr == -1)

	return l
}

func (t *tage) predict(tid int, pc, _ uint64, _ bool) bool {
	l := t.lookup(tid, pc)
	if l.weakNew {
		return l.altPred
	}

	return l.pred
}

func (t *tage) update(tid int, pc uint64, taken bool) {
	l := t.lookup(tid, pc)

	final := l.pred
	if l.weakNew {
		final = l.altPred
	}

	if l.provider >= 0 {
		e := &t.tables[l.provider].entries[l.providerIdx]
		e.ctr = nextSigned(e.ctr, taken)

		if l.pred != l.altPred {
			if l.pred == taken {
				e.useful = min(e.useful+1, 3)
			} else if e.useful > 0 {
				e.useful--
			}
		}

		if l.alt < 0 && l.weakNew {
			t.base.update(tid, pc, taken)
		}
	} else {
		t.base.update(tid, pc, taken)
	}

	if final != taken {
		t.allocate(tid, pc, taken, l.provider)
	}

	t.updates++
	if t.updates%t.resetPeriod == 0 {
		t.ageUseful()
	}

	t.history[tid] = shiftHistory(t.history[tid], taken)
}

// allocate claims an entry with no useful bits in a table with a longer
// history than the provider. If every candidate is useful, their useful
// counters decay instead.
func (t *tage) allocate(tid int, pc uint64, taken bool, provider int) {
	for i := provider + 1; i < len(t.tables); i++ {
		idx := t.index(i, tid, pc)
		e := &t.tables[i].entries[idx]

		if e.valid && e.useful > 0 {
			continue
		}

		ctr := int8(-1)
		if taken {
			ctr = 0
		}

		*e = tageEntry{valid: true, tag: t.tag(i, tid, pc), ctr: ctr}

		return
	}

	for i := provider + 1; i < len(t.tables); i++ {
		e := &t.tables[i].entries[t.index(i, tid, pc)]
		if e.useful > 0 {
			e.useful--
		}
	}
}

func (t *tage) ageUseful() {
	for i := range t.tables {
		for j := range t.tables[i].entries {
			t.tables[i].entries[j].useful >>= 1
		}
	}
}

func nextSigned(c int8, taken bool) int8 {
	switch {
	case taken && c < 3:
		return c + 1
	case !taken && c > -4:
		return c - 1
	}

	return c
}
