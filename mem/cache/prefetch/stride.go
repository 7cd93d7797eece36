package prefetch

type strideEntry struct {
	key        uint64
	lastBlock  uint64
	stride     int64
	confidence int
	lru        uint64
}

// Stride detects constant strides per instruction. Accesses without a PC are
// tracked per page.
type Stride struct {
	blockSize  int
	tableSize  int
	threshold  int
	degree     int
	table      []*strideEntry
	accessTime uint64
}

// NewStride creates a stride prefetcher. After the same stride is seen
// threshold times in a row, degree blocks ahead are prefetched.
func NewStride(blockSize, tableSize, threshold, degree int) *Stride {
	return &Stride{
		blockSize: blockSize,
		tableSize: tableSize,
		threshold: threshold,
		degree:    degree,
	}
}

// Name returns "stride".
func (p *Stride) Name() string {
	return "stride"
}

// Observe updates the stride table and returns the prefetch targets.
func (p *Stride) Observe(a Access) []uint64 {
	p.accessTime++

	key := a.PC
	if key == 0 {
		key = a.BlockAddr / PageSize
	}

	e := p.find(key)
	if e == nil {
		p.insert(key, a.BlockAddr)
		return nil
	}

	e.lru = p.accessTime
	stride := int64(a.BlockAddr) - int64(e.lastBlock)
	e.lastBlock = a.BlockAddr

	if stride == 0 {
		return nil
	}

	if stride == e.stride {
		if e.confidence < p.threshold {
			e.confidence++
		}
	} else {
		e.stride = stride
		e.confidence = 0

		return nil
	}

	if e.confidence < p.threshold {
		return nil
	}

	targets := make([]uint64, 0, p.degree)
	for i := 1; i <= p.degree; i++ {
		next := int64(a.BlockAddr) + int64(i)*stride
		if next < 0 || !samePage(uint64(next), a.BlockAddr) {
			break
		}

		targets = append(targets, uint64(next))
	}

	return targets
}

// Filled does nothing. Strides are learned from demand accesses only.
func (p *Stride) Filled(_ uint64, _ bool) {}

func (p *Stride) find(key uint64) *strideEntry {
	for _, e := range p.table {
		if e.key == key {
			return e
		}
	}

	return nil
}

func (p *Stride) insert(key, blockAddr uint64) {
	e := &strideEntry{key: key, lastBlock: blockAddr, lru: p.accessTime}

	if len(p.table) < p.tableSize {
		p.table = append(p.table, e)
		return
	}

	victim := 0
	for i, c := range p.table {
		if c.lru < p.table[victim].lru {
			victim = i
		}
	}

	p.table[victim] = e
}
