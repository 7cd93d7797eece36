// Package replacement provides the cache replacement policies.
//
// A policy keeps its per-block bookkeeping in an Entry that lives next to
// each block. The cache passes a logical timestamp that grows on every access,
// so that ties within a cycle are still ordered.
package replacement

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// Entry is the replacement metadata of a block.
type Entry struct {
	LastTouch uint64 `json:"last_touch"`
	Inserted  uint64 `json:"inserted"`
	RRPV      int    `json:"rrpv"`
}

// Policy decides which block leaves a set.
type Policy interface {
	// Name returns the configuration name of the policy.
	Name() string

	// Touch updates the entry on a hit.
	Touch(e *Entry, now uint64)

	// Reset updates the entry when a new block is inserted.
	Reset(e *Entry, now uint64)

	// Invalidate clears the entry of an invalidated block.
	Invalidate(e *Entry)

	// Victim selects one of the valid candidates. Candidates are ordered by
	// way index and ties are broken toward the lower index. It returns the
	// position in the candidates slice.
	Victim(candidates []*Entry) int
}

// Factory creates a policy. The seed is only used by randomized policies.
type Factory func(seed int64) Policy

var registry = map[string]Factory{
	"lru":    func(int64) Policy { return NewLRU() },
	"fifo":   func(int64) Policy { return NewFIFO() },
	"random": func(seed int64) Policy { return NewRandom(seed) },
	"srrip":  func(int64) Policy { return NewSRRIP(2) },
	"brrip":  func(seed int64) Policy { return NewBRRIP(2, 32, seed) },
	"lru2":   func(int64) Policy { return NewLRU2() },
	"lip":    func(int64) Policy { return NewLIP() },
}

// ByName creates the policy registered under the name.
func ByName(name string, seed int64) (Policy, error) {
	f, found := registry[strings.ToLower(name)]
	if !found {
		return nil, fmt.Errorf("unknown replacement policy %q, known: %s",
			name, strings.Join(Names(), ", "))
	}

	return f(seed), nil
}

// Names lists the registered policy names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

func mustHaveCandidates(candidates []*Entry) {
	if len(candidates) == 0 {
		panic("no replacement candidate")
	}
}

// LRU evicts the least recently used block.
type LRU struct{}

// NewLRU creates an LRU policy.
func NewLRU() *LRU {
	return &LRU{}
}

// Name returns "lru".
func (p *LRU) Name() string { return "lru" }

// Touch records the access time.
func (p *LRU) Touch(e *Entry, now uint64) { e.LastTouch = now }

// Reset records the insertion time as an access.
func (p *LRU) Reset(e *Entry, now uint64) { e.LastTouch = now }

// Invalidate makes the entry the oldest.
func (p *LRU) Invalidate(e *Entry) { e.LastTouch = 0 }

// Victim returns the least recently touched candidate.
func (p *LRU) Victim(candidates []*Entry) int {
	mustHaveCandidates(candidates)

	return oldest(candidates)
}

func oldest(candidates []*Entry) int {
	victim := 0

	for i, c := range candidates {
		if c.LastTouch < candidates[victim].LastTouch {
			victim = i
		}
	}

	return victim
}

// FIFO evicts the block that was inserted first.
type FIFO struct{}

// NewFIFO creates a FIFO policy.
func NewFIFO() *FIFO {
	return &FIFO{}
}

// Name returns "fifo".
func (p *FIFO) Name() string { return "fifo" }

// Touch does nothing. Hits do not change the insertion order.
func (p *FIFO) Touch(_ *Entry, _ uint64) {}

// Reset records the insertion time.
func (p *FIFO) Reset(e *Entry, now uint64) { e.Inserted = now }

// Invalidate makes the entry the oldest.
func (p *FIFO) Invalidate(e *Entry) { e.Inserted = 0 }

// Victim returns the earliest inserted candidate.
func (p *FIFO) Victim(candidates []*Entry) int {
	mustHaveCandidates(candidates)

	victim := 0
	for i, c := range candidates {
		if c.Inserted < candidates[victim].Inserted {
			victim = i
		}
	}

	return victim
}

// Random evicts a random block. The sequence is reproducible for a seed.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a Random policy.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// Name returns "random".
func (p *Random) Name() string { return "random" }

// Touch does nothing.
func (p *Random) Touch(_ *Entry, _ uint64) {}

// Reset does nothing.
func (p *Random) Reset(_ *Entry, _ uint64) {}

// Invalidate does nothing.
func (p *Random) Invalidate(_ *Entry) {}

// Victim returns a random candidate.
func (p *Random) Victim(candidates []*Entry) int {
	mustHaveCandidates(candidates)

	return p.rng.Intn(len(candidates))
}

// LRU2 evicts the third most recently used block, keeping the two hottest
// blocks and the coldest ones that may still be reused. With fewer than three
// candidates it falls back to LRU.
type LRU2 struct{}

// NewLRU2 creates an LRU2 policy.
func NewLRU2() *LRU2 {
	return &LRU2{}
}

// Name returns "lru2".
func (p *LRU2) Name() string { return "lru2" }

// Touch records the access time.
func (p *LRU2) Touch(e *Entry, now uint64) { e.LastTouch = now }

// Reset records the insertion time as an access.
func (p *LRU2) Reset(e *Entry, now uint64) { e.LastTouch = now }

// Invalidate makes the entry the oldest.
func (p *LRU2) Invalidate(e *Entry) { e.LastTouch = 0 }

// Victim returns the third most recently used candidate.
func (p *LRU2) Victim(candidates []*Entry) int {
	mustHaveCandidates(candidates)

	if len(candidates) < 3 {
		return oldest(candidates)
	}

	mru := [3]int{-1, -1, -1}

	for i, c := range candidates {
		switch {
		case mru[0] < 0 || c.LastTouch > candidates[mru[0]].LastTouch:
			mru[2], mru[1], mru[0] = mru[1], mru[0], i
		case mru[1] < 0 || c.LastTouch > candidates[mru[1]].LastTouch:
			mru[2], mru[1] = mru[1], i
		case mru[2] < 0 || c.LastTouch > candidates[mru[2]].LastTouch:
			mru[2] = i
		}
	}

	return mru[2]
}

// LIP is LRU with insertion close to the LRU position. A new block gets the
// timestamp right after the second oldest block seen at the last victim
// selection, so that a block that is never reused leaves the set quickly.
type LIP struct {
	smallest       uint64
	secondSmallest uint64
}

// NewLIP creates a LIP policy.
func NewLIP() *LIP {
	return &LIP{}
}

// Name returns "lip".
func (p *LIP) Name() string { return "lip" }

// Touch records the access time.
func (p *LIP) Touch(e *Entry, now uint64) { e.LastTouch = now }

// Reset inserts the block next to the LRU position.
func (p *LIP) Reset(e *Entry, _ uint64) { e.LastTouch = p.secondSmallest + 1 }

// Invalidate makes the entry the oldest.
func (p *LIP) Invalidate(e *Entry) { e.LastTouch = 0 }

// Victim returns the least recently used candidate and records the two
// smallest timestamps of the set.
func (p *LIP) Victim(candidates []*Entry) int {
	mustHaveCandidates(candidates)

	p.smallest = ^uint64(0)
	p.secondSmallest = ^uint64(0)

	for _, c := range candidates {
		switch {
		case c.LastTouch < p.smallest:
			p.secondSmallest = p.smallest
			p.smallest = c.LastTouch
		case c.LastTouch < p.secondSmallest:
			p.secondSmallest = c.LastTouch
		}
	}

	if p.secondSmallest == ^uint64(0) {
		p.secondSmallest = p.smallest
	}

	return oldest(candidates)
}

// RRIP implements re-reference interval prediction. SRRIP inserts with a long
// re-reference interval. BRRIP inserts with a distant interval most of the
// time.
type RRIP struct {
	name     string
	maxRRPV  int
	bimodal  bool
	throttle int
	rng      *rand.Rand
}

// NewSRRIP creates a static RRIP policy with numBits bits per entry.
func NewSRRIP(numBits int) *RRIP {
	return &RRIP{
		name:    "srrip",
		maxRRPV: (1 << numBits) - 1,
	}
}

// NewBRRIP creates a bimodal RRIP policy. One in throttle insertions uses
// the long interval and the rest use the distant interval.
func NewBRRIP(numBits int, throttle int, seed int64) *RRIP {
	return &RRIP{
		name:     "brrip",
		maxRRPV:  (1 << numBits) - 1,
		bimodal:  true,
		throttle: throttle,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Name returns "srrip" or "brrip".
func (p *RRIP) Name() string { return p.name }

// Touch predicts a near re-reference.
func (p *RRIP) Touch(e *Entry, _ uint64) { e.RRPV = 0 }

// Reset sets the insertion interval.
func (p *RRIP) Reset(e *Entry, _ uint64) {
	e.RRPV = p.maxRRPV - 1

	if p.bimodal && p.rng.Intn(p.throttle) != 0 {
		e.RRPV = p.maxRRPV
	}
}

// Invalidate predicts a distant re-reference.
func (p *RRIP) Invalidate(e *Entry) { e.RRPV = p.maxRRPV }

// Victim returns the first candidate with the distant interval, aging all
// candidates until one is found.
func (p *RRIP) Victim(candidates []*Entry) int {
	mustHaveCandidates(candidates)

	victim := 0
	for i, c := range candidates {
		if c.RRPV > candidates[victim].RRPV {
			victim = i
		}
	}

	if diff := p.maxRRPV - candidates[victim].RRPV; diff > 0 {
		for _, c := range candidates {
			c.RRPV += diff
		}
	}

	return victim
}
