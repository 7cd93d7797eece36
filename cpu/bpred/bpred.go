// Package bpred provides branch predictors. A predictor combines a direction
// predictor with a branch target buffer.
package bpred

import (
	"fmt"
	"math/bits"
)

// Prediction is the guess for a branch at fetch or decode time.
type Prediction struct {
	Taken       bool
	Target      uint64
	TargetKnown bool
}

// A Predictor guesses branch outcomes and learns from resolved branches.
// Histories are kept per hardware thread.
type Predictor interface {
	Predict(tid int, pc uint64) Prediction

	// Update trains the predictor with a committed branch.
	Update(tid int, pc uint64, taken bool, target uint64)

	Name() string
}

// Config sizes a predictor. Table sizes are entry counts and must be powers
// of two.
type Config struct {
	NumThreads  int
	TableSize   int
	HistoryBits int
	BTBSize     int

	// TAGE only.
	NumTaggedTables int
	TagBits         int
}

// DefaultConfig returns the sizes used when a field is zero.
func DefaultConfig() Config {
	return Config{
		NumThreads:      1,
		TableSize:       4096,
		HistoryBits:     12,
		BTBSize:         1024,
		NumTaggedTables: 4,
		TagBits:         9,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.NumThreads == 0 {
		c.NumThreads = d.NumThreads
	}

	if c.TableSize == 0 {
		c.TableSize = d.TableSize
	}

	if c.HistoryBits == 0 {
		c.HistoryBits = d.HistoryBits
	}

	if c.BTBSize == 0 {
		c.BTBSize = d.BTBSize
	}

	if c.NumTaggedTables == 0 {
		c.NumTaggedTables = d.NumTaggedTables
	}

	if c.TagBits == 0 {
		c.TagBits = d.TagBits
	}

	return c
}

// Validate reports sizes that cannot form a predictor.
func (c Config) Validate() error {
	c = c.withDefaults()

	for name, n := range map[string]int{
		"table size": c.TableSize,
		"BTB size":   c.BTBSize,
	} {
		if n < 0 || bits.OnesCount(uint(n)) != 1 {
			return fmt.Errorf("%s %d is not a power of two", name, n)
		}
	}

	if c.HistoryBits < 0 || c.HistoryBits > 64 {
		return fmt.Errorf("history bits %d out of [0, 64]", c.HistoryBits)
	}

	if c.TagBits > 16 {
		return fmt.Errorf("tag bits %d exceed 16", c.TagBits)
	}

	return nil
}

// Names lists the predictors that New can build.
func Names() []string {
	return []string{"static", "bimodal", "gshare", "tage"}
}

// New creates the predictor of the given name.
func New(name string, cfg Config) (Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	var dir direction

	switch name {
	case "static":
		dir = staticDirection{}
	case "bimodal":
		dir = newBimodal(cfg.TableSize)
	case "gshare":
		dir = newGshare(cfg)
	case "tage":
		dir = newTage(cfg)
	default:
		return nil, fmt.Errorf("unknown branch predictor %q, known: %v",
			name, Names())
	}

	return &predictor{
		name: name,
		dir:  dir,
		btb:  newBTB(cfg.BTBSize),
	}, nil
}

// A direction predicts if a branch is taken.
type direction interface {
	predict(tid int, pc uint64, btbTarget uint64, targetKnown bool) bool
	update(tid int, pc uint64, taken bool)
}

type predictor struct {
	name string
	dir  direction
	btb  *btb
}

func (p *predictor) Name() string {
	return p.name
}

func (p *predictor) Predict(tid int, pc uint64) Prediction {
	target, known := p.btb.lookup(pc)

	return Prediction{
		Taken:       p.dir.predict(tid, pc, target, known),
		Target:      target,
		TargetKnown: known,
	}
}

func (p *predictor) Update(tid int, pc uint64, taken bool, target uint64) {
	p.dir.update(tid, pc, taken)

	if taken {
		p.btb.insert(pc, target)
	}
}

type btbEntry struct {
	valid  bool
	pc     uint64
	target uint64
}

// btb is a direct-mapped branch target buffer.
type btb struct {
	entries []btbEntry
	mask    uint64
}

func newBTB(size int) *btb {
	return &btb{
		entries: make([]btbEntry, size),
		mask:    uint64(size - 1),
	}
}

func (b *btb) index(pc uint64) uint64 {
	return (pc >> 3) & b.mask
}

func (b *btb) lookup(pc uint64) (uint64, bool) {
	e := b.entries[b.index(pc)]
	if e.valid && e.pc == pc {
		return e.target, true
	}

	return 0, false
}

func (b *btb) insert(pc, target uint64) {
	b.entries[b.index(pc)] = btbEntry{valid: true, pc: pc, target: target}
}
