package prefetch

const (
	bopScoreMax  = 31
	bopRoundMax  = 100
	bopBadScore  = 10
	bopRRSize    = 64
	bopMaxOffset = 256
)

// BestOffset learns the single offset that would have made most recent
// accesses timely, and prefetches the current access plus that offset.
//
// Offsets are tested one per access. An offset d scores when the block
// X-d was recently filled. A learning phase ends when one offset reaches
// the maximum score or after a fixed number of rounds. If the best score is
// too low, prefetching is turned off until a later phase finds a better
// offset.
type BestOffset struct {
	blockSize int
	offsets   []int64
	scores    []int

	testIndex int
	round     int
	bestIdx   int

	offset  int64
	enabled bool

	rr []uint64
}

// NewBestOffset creates a best-offset prefetcher.
func NewBestOffset(blockSize int) *BestOffset {
	p := &BestOffset{
		blockSize: blockSize,
		offsets:   bopOffsets(),
		rr:        make([]uint64, bopRRSize),
		offset:    1,
		enabled:   true,
	}

	p.scores = make([]int, len(p.offsets))

	return p
}

// bopOffsets lists the offsets from 1 to bopMaxOffset that have no prime
// factor larger than 5.
func bopOffsets() []int64 {
	offsets := []int64{}

	for n := int64(1); n <= bopMaxOffset; n++ {
		m := n
		for _, f := range []int64{2, 3, 5} {
			for m%f == 0 {
				m /= f
			}
		}

		if m == 1 {
			offsets = append(offsets, n)
		}
	}

	return offsets
}

// Name returns "bop".
func (p *BestOffset) Name() string {
	return "bop"
}

// Offset returns the offset in blocks that is currently used and whether
// prefetching is on.
func (p *BestOffset) Offset() (int64, bool) {
	return p.offset, p.enabled
}

// Observe learns from misses and prefetch hits and returns the prefetch
// target.
func (p *BestOffset) Observe(a Access) []uint64 {
	if !a.Miss && !a.PrefetchHit {
		return nil
	}

	line := a.BlockAddr / uint64(p.blockSize)
	p.learn(line)

	if !p.enabled {
		return nil
	}

	target := int64(line) + p.offset
	if target < 0 {
		return nil
	}

	addr := uint64(target) * uint64(p.blockSize)
	if !samePage(addr, a.BlockAddr) {
		return nil
	}

	return []uint64{addr}
}

// Filled records the base address of the fill in the recent request table.
func (p *BestOffset) Filled(blockAddr uint64, wasPrefetch bool) {
	line := blockAddr / uint64(p.blockSize)

	if wasPrefetch {
		if !p.enabled {
			return
		}

		base := int64(line) - p.offset
		if base < 0 {
			return
		}

		line = uint64(base)
	}

	p.rr[p.rrIndex(line)] = line + 1
}

func (p *BestOffset) rrIndex(line uint64) int {
	h := line ^ (line >> 6)
	return int(h % uint64(len(p.rr)))
}

func (p *BestOffset) rrHit(line uint64) bool {
	return p.rr[p.rrIndex(line)] == line+1
}

func (p *BestOffset) learn(line uint64) {
	d := p.offsets[p.testIndex]

	if int64(line)-d >= 0 && p.rrHit(uint64(int64(line)-d)) {
		p.scores[p.testIndex]++
		if p.scores[p.testIndex] > p.scores[p.bestIdx] {
			p.bestIdx = p.testIndex
		}
	}

	p.testIndex++
	if p.testIndex == len(p.offsets) {
		p.testIndex = 0
		p.round++
	}

	if p.scores[p.bestIdx] >= bopScoreMax || p.round >= bopRoundMax {
		p.endPhase()
	}
}

func (p *BestOffset) endPhase() {
	best := p.scores[p.bestIdx]

	p.offset = p.offsets[p.bestIdx]
	p.enabled = best > bopBadScore

	for i := range p.scores {
		p.scores[i] = 0
	}

	p.testIndex = 0
	p.round = 0
	p.bestIdx = 0
}
