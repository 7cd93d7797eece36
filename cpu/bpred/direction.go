package bpred

// staticDirection predicts backward branches taken and forward branches not
// taken. Branches never seen taken have no known target and are predicted
// not taken.
type staticDirection struct{}

func (staticDirection) predict(_ int, pc, target uint64, known bool) bool {
	return known && target < pc
}

func (staticDirection) update(int, uint64, bool) {}

// counter is a 2-bit saturating counter. Values 2 and 3 predict taken.
type counter uint8

func (c counter) taken() bool {
	return c >= 2
}

func (c counter) next(taken bool) counter {
	switch {
	case taken && c < 3:
		return c + 1
	case !taken && c > 0:
		return c - 1
	}

	return c
}

type bimodal struct {
	table []counter
	mask  uint64
}

func newBimodal(size int) *bimodal {
	b := &bimodal{
		table: make([]counter, size),
		mask:  uint64(size - 1),
	}

	// Weakly not taken.
	for i := range b.table {
		b.table[i] = 1
	}

	return b
}

func (b *bimodal) index(pc uint64) uint64 {
	return (pc >> 3) & b.mask
}

func (b *bimodal) predict(_ int, pc, _ uint64, _ bool) bool {
	return b.table[b.index(pc)].taken()
}

func (b *bimodal) update(_ int, pc uint64, taken bool) {
	i := b.index(pc)
	b.table[i] = b.table[i].next(taken)
}

// gshare indexes the counters with the PC xor the global history of the
// thread.
type gshare struct {
	*bimodal
	history  []uint64
	histMask uint64
}

func newGshare(cfg Config) *gshare {
	return &gshare{
		bimodal:  newBimodal(cfg.TableSize),
		history:  make([]uint64, cfg.NumThreads),
		histMask: lowBits(cfg.HistoryBits),
	}
}

func lowBits(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}

	return 1<<n - 1
}

func (g *gshare) index(tid int, pc uint64) uint64 {
	return ((pc >> 3) ^ (g.history[tid] & g.histMask)) & g.mask
}

func (g *gshare) predict(tid int, pc, _ uint64, _ bool) bool {
	return g.table[g.index(tid, pc)].taken()
}

func (g *gshare) update(tid int, pc uint64, taken bool) {
	i := g.index(tid, pc)
	g.table[i] = g.table[i].next(taken)
	g.history[tid] = shiftHistory(g.history[tid], taken)
}

func shiftHistory(h uint64, taken bool) uint64 {
	h <<= 1
	if taken {
		h |= 1
	}

	return h
}
