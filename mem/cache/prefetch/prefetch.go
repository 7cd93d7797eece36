// Package prefetch provides the hardware prefetchers of a cache.
package prefetch

import (
	"fmt"
	"strings"
)

// PageSize bounds the prefetch targets. A prefetcher never crosses the page
// of the access that triggered it.
const PageSize = 4096

// An Access is a demand access observed by the cache.
type Access struct {
	// BlockAddr is the address of the block accessed.
	BlockAddr uint64

	// PC is the address of the instruction, or 0 when unknown.
	PC uint64

	// Miss is set when the access missed the cache.
	Miss bool

	// PrefetchHit is set when the access hit a block brought in by a
	// prefetch.
	PrefetchHit bool
}

// A Prefetcher suggests blocks to fetch before they are needed.
type Prefetcher interface {
	// Name returns the configuration name of the prefetcher.
	Name() string

	// Observe learns from an access and returns the block addresses to
	// prefetch.
	Observe(a Access) []uint64

	// Filled tells the prefetcher that a block has arrived.
	Filled(blockAddr uint64, wasPrefetch bool)
}

// ByName creates a prefetcher by its configuration name. An empty name or
// "none" returns nil.
func ByName(name string, blockSize int) (Prefetcher, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "stride":
		return NewStride(blockSize, 64, 2, 2), nil
	case "bop":
		return NewBestOffset(blockSize), nil
	default:
		return nil, fmt.Errorf(
			"unknown prefetcher %q, known: none, stride, bop", name)
	}
}

func samePage(a, b uint64) bool {
	return a/PageSize == b/PageSize
}

// A Queue holds the prefetch candidates until the cache has room to issue
// them. A full queue drops new candidates and a queued address is not added
// twice.
type Queue struct {
	capacity int
	addrs    []uint64
	dropped  uint64
}

// NewQueue creates a prefetch queue.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push adds a block address. It returns false if the address is dropped.
func (q *Queue) Push(blockAddr uint64) bool {
	for _, a := range q.addrs {
		if a == blockAddr {
			return false
		}
	}

	if len(q.addrs) >= q.capacity {
		q.dropped++
		return false
	}

	q.addrs = append(q.addrs, blockAddr)

	return true
}

// Peek returns the oldest address.
func (q *Queue) Peek() (uint64, bool) {
	if len(q.addrs) == 0 {
		return 0, false
	}

	return q.addrs[0], true
}

// Pop removes the oldest address.
func (q *Queue) Pop() (uint64, bool) {
	addr, ok := q.Peek()
	if ok {
		q.addrs = q.addrs[1:]
	}

	return addr, ok
}

// Len returns the number of queued addresses.
func (q *Queue) Len() int {
	return len(q.addrs)
}

// Dropped returns how many candidates were dropped because the queue was
// full.
func (q *Queue) Dropped() uint64 {
	return q.dropped
}

// Clear discards every queued address.
func (q *Queue) Clear() {
	q.addrs = nil
}
