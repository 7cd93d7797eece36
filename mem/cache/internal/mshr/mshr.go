// Package mshr tracks the misses that a cache has sent to the lower level.
package mshr

import (
	"errors"
	"fmt"

	"github.com/sarchlab/o3sim/mem/cache/internal/tagging"
	"github.com/sarchlab/o3sim/mem/mem"
)

var (
	// ErrFull is returned when every entry is in use.
	ErrFull = errors.New("mshr is full")

	// ErrTargetsFull is returned when an entry cannot take more targets.
	ErrTargetsFull = errors.New("mshr entry targets are full")

	// ErrDuplicate is returned when the block already has an entry.
	ErrDuplicate = errors.New("block already has an mshr entry")

	// ErrNotFound is returned when no entry matches.
	ErrNotFound = errors.New("mshr entry not found")
)

// An Entry is an outstanding miss on a block.
type Entry struct {
	BlockAddr uint64

	// Block is the way reserved for the fill.
	Block *tagging.Block

	// FetchReq is the read sent to the lower level.
	FetchReq *mem.ReadReq

	// Targets are the requests waiting for the block, in arrival order.
	Targets []mem.AccessReq

	// IsPrefetch is set when a prefetch allocated the entry.
	IsPrefetch bool
}

// MSHR records cache's request to bottom memory.
type MSHR interface {
	Lookup(blockAddr uint64) (*Entry, bool)
	LookupByFetchID(id string) (*Entry, bool)
	AddEntry(blockAddr uint64) (*Entry, error)
	AddTarget(e *Entry, req mem.AccessReq) error
	RemoveEntry(blockAddr uint64) error
	Entries() []*Entry
	IsFull() bool
	NumFree() int
	Capacity() int
	Reset()
}

// NewMSHR creates a new MSHR with capacity entries and at most
// targetsPerEntry targets per entry.
func NewMSHR(capacity, targetsPerEntry int) MSHR {
	if capacity <= 0 || targetsPerEntry <= 0 {
		panic("mshr capacity and targets per entry must be positive")
	}

	return &mshrImpl{
		capacity:        capacity,
		targetsPerEntry: targetsPerEntry,
	}
}

type mshrImpl struct {
	capacity        int
	targetsPerEntry int
	entries         []*Entry
}

func (m *mshrImpl) Lookup(blockAddr uint64) (*Entry, bool) {
	for _, e := range m.entries {
		if e.BlockAddr == blockAddr {
			return e, true
		}
	}

	return nil, false
}

func (m *mshrImpl) LookupByFetchID(id string) (*Entry, bool) {
	for _, e := range m.entries {
		if e.FetchReq != nil && e.FetchReq.ID == id {
			return e, true
		}
	}

	return nil, false
}

func (m *mshrImpl) AddEntry(blockAddr uint64) (*Entry, error) {
	if _, found := m.Lookup(blockAddr); found {
		return nil, fmt.Errorf("0x%x: %w", blockAddr, ErrDuplicate)
	}

	if m.IsFull() {
		return nil, ErrFull
	}

	entry := &Entry{BlockAddr: blockAddr}
	m.entries = append(m.entries, entry)

	return entry, nil
}

func (m *mshrImpl) AddTarget(e *Entry, req mem.AccessReq) error {
	if len(e.Targets) >= m.targetsPerEntry {
		return ErrTargetsFull
	}

	e.Targets = append(e.Targets, req)

	return nil
}

func (m *mshrImpl) RemoveEntry(blockAddr uint64) error {
	for i, e := range m.entries {
		if e.BlockAddr == blockAddr {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("0x%x: %w", blockAddr, ErrNotFound)
}

func (m *mshrImpl) Entries() []*Entry {
	return append([]*Entry(nil), m.entries...)
}

func (m *mshrImpl) IsFull() bool {
	return len(m.entries) >= m.capacity
}

func (m *mshrImpl) NumFree() int {
	return m.capacity - len(m.entries)
}

func (m *mshrImpl) Capacity() int {
	return m.capacity
}

func (m *mshrImpl) Reset() {
	m.entries = nil
}
