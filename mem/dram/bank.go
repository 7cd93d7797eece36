package dram

const noOpenRow = -1

// RowState tells how a request finds the row buffer of its bank.
type RowState int

// The row buffer outcomes.
const (
	RowHit RowState = iota
	RowEmpty
	RowConflict
)

func (s RowState) String() string {
	switch s {
	case RowHit:
		return "row-hit"
	case RowEmpty:
		return "row-empty"
	default:
		return "row-conflict"
	}
}

// A bank keeps one open row. The open-page policy leaves the row open after
// an access.
type bank struct {
	openRow   int64
	busyUntil uint64
}

func newBank() *bank {
	return &bank{openRow: noOpenRow}
}

func (b *bank) rowState(row int64) RowState {
	switch b.openRow {
	case row:
		return RowHit
	case noOpenRow:
		return RowEmpty
	default:
		return RowConflict
	}
}

func (b *bank) isIdle(cycle uint64) bool {
	return b.busyUntil <= cycle
}

// accessLatency returns the cycles from issuing a command to the first data
// beat.
func accessLatency(s RowState, t Timing) int {
	switch s {
	case RowHit:
		return t.TCL
	case RowEmpty:
		return t.TRCD + t.TCL
	default:
		return t.TRP + t.TRCD + t.TCL
	}
}
