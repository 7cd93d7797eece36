package dram

import "github.com/sarchlab/o3sim/mem/mem"

type transaction struct {
	req  mem.AccessReq
	addr uint64
	size uint64
	bank int
	row  int64

	issued bool
	doneAt uint64
	state  RowState
}

func (t *transaction) overlaps(o *transaction) bool {
	return t.addr < o.addr+o.size && o.addr < t.addr+t.size
}

// scheduler keeps the request queue and the bank states and picks requests
// first-ready, first-come-first-served: row hits before older requests.
type scheduler struct {
	timing        Timing
	banks         []*bank
	rowBufferSize uint64
	capacity      int

	queue     []*transaction
	busFreeAt uint64
	stats     *Stats
}

func newScheduler(
	t Timing,
	numBanks int,
	rowBufferSize uint64,
	capacity int,
	stats *Stats,
) *scheduler {
	s := &scheduler{
		timing:        t,
		rowBufferSize: rowBufferSize,
		capacity:      capacity,
		stats:         stats,
	}

	for range numBanks {
		s.banks = append(s.banks, newBank())
	}

	return s
}

func (s *scheduler) canAccept() bool {
	return len(s.queue) < s.capacity
}

func (s *scheduler) newTransaction(req mem.AccessReq, addr uint64) *transaction {
	size := req.GetByteSize()
	if size == 0 {
		size = 1
	}

	numBanks := uint64(len(s.banks))

	return &transaction{
		req:  req,
		addr: addr,
		size: size,
		bank: int(addr / s.rowBufferSize % numBanks),
		row:  int64(addr / (s.rowBufferSize * numBanks)),
	}
}

func (s *scheduler) push(t *transaction) {
	if !s.canAccept() {
		panic("dram request queue is full")
	}

	s.queue = append(s.queue, t)
}

// pick returns the request to issue in the cycle, or nil.
func (s *scheduler) pick(cycle uint64) *transaction {
	var oldest *transaction

	for i, t := range s.queue {
		if t.issued || s.blocked(i) || !s.banks[t.bank].isIdle(cycle) {
			continue
		}

		if s.banks[t.bank].rowState(t.row) == RowHit {
			return t
		}

		if oldest == nil {
			oldest = t
		}
	}

	return oldest
}

// blocked tells if an older request to the same bytes has not been issued.
func (s *scheduler) blocked(i int) bool {
	t := s.queue[i]

	for _, older := range s.queue[:i] {
		if !older.issued && older.overlaps(t) {
			return true
		}
	}

	return false
}

func (s *scheduler) issue(t *transaction, cycle uint64) {
	b := s.banks[t.bank]

	t.state = b.rowState(t.row)
	dataStart := max(cycle+uint64(accessLatency(t.state, s.timing)),
		s.busFreeAt)

	t.doneAt = dataStart + uint64(s.timing.TBurst)
	t.issued = true

	s.busFreeAt = t.doneAt
	b.busyUntil = t.doneAt
	b.openRow = t.row

	switch t.state {
	case RowHit:
		s.stats.RowHits++
	case RowEmpty:
		s.stats.RowEmpty++
	default:
		s.stats.RowConflicts++
	}
}

// completed returns the issued request that finishes first, if it has
// finished by the cycle.
func (s *scheduler) completed(cycle uint64) *transaction {
	var first *transaction

	for _, t := range s.queue {
		if !t.issued || t.doneAt > cycle {
			continue
		}

		if first == nil || t.doneAt < first.doneAt {
			first = t
		}
	}

	return first
}

func (s *scheduler) remove(t *transaction) {
	for i, q := range s.queue {
		if q == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *scheduler) closeRows() {
	for _, b := range s.banks {
		b.openRow = noOpenRow
		b.busyUntil = 0
	}

	s.busFreeAt = 0
}
