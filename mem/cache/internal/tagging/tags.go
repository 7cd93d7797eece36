// Package tagging keeps the tag array of a cache.
package tagging

import (
	"fmt"

	"github.com/sarchlab/o3sim/mem/cache/replacement"
)

// A TagArray tracks which memory blocks are held in a cache.
type TagArray interface {
	// Lookup returns the valid block that holds the block address.
	Lookup(blockAddr uint64) (*Block, bool)

	// GetSet returns the set that a block address maps to.
	GetSet(blockAddr uint64) (set *Set, setID int)

	// Block returns the block at a set and a way.
	Block(setID, wayID int) *Block

	// TotalSize returns the number of bytes the cache can hold.
	TotalSize() uint64

	// NumValid returns the number of valid blocks.
	NumValid() int

	// Reset invalidates every block.
	Reset()

	// State returns the valid blocks for checkpointing.
	State() []BlockState

	// SetState replaces the tag array content with a checkpointed one.
	SetState(blocks []BlockState) error
}

// NewTagArray creates a tag array with every block invalid.
func NewTagArray(
	numSets int,
	numWays int,
	blockSize int,
) TagArray {
	t := &tagArrayImpl{
		NumSets:   numSets,
		NumWays:   numWays,
		BlockSize: blockSize,
		Sets:      []Set{},
	}

	t.Reset()

	return t
}

// A Block of a cache is the information that is associated with a cache line
type Block struct {
	Tag          uint64
	WayID        int
	SetID        int
	CacheAddress uint64
	IsValid      bool
	IsDirty      bool

	// ReadCount is the number of hits that are reading the data array.
	ReadCount int

	// IsLocked is set while a fill for the block is outstanding.
	IsLocked bool

	// Prefetched is set when a prefetch brought the block in and no demand
	// access has used it yet.
	Prefetched bool

	Repl replacement.Entry
}

// IsBusy tells if the block cannot be evicted now.
func (b *Block) IsBusy() bool {
	return b.IsLocked || b.ReadCount > 0
}

// A Set is a list of blocks where a certain piece memory can be stored at.
type Set struct {
	Blocks []*Block
}

// BlockState is the checkpointed form of a valid block.
type BlockState struct {
	SetID      int               `json:"set"`
	WayID      int               `json:"way"`
	Tag        uint64            `json:"tag"`
	IsDirty    bool              `json:"dirty"`
	Prefetched bool              `json:"prefetched,omitempty"`
	Repl       replacement.Entry `json:"repl"`
}

type tagArrayImpl struct {
	NumSets   int
	NumWays   int
	BlockSize int
	Sets      []Set
}

// TotalSize returns the maximum number of bytes can be stored in the cache
func (d *tagArrayImpl) TotalSize() uint64 {
	return uint64(d.NumSets) * uint64(d.NumWays) * uint64(d.BlockSize)
}

// Get the set that a certain address should store at
func (d *tagArrayImpl) GetSet(blockAddr uint64) (set *Set, setID int) {
	setID = int(blockAddr / uint64(d.BlockSize) % uint64(d.NumSets))
	set = &d.Sets[setID]

	return
}

func (d *tagArrayImpl) Lookup(blockAddr uint64) (*Block, bool) {
	set, _ := d.GetSet(blockAddr)
	for _, block := range set.Blocks {
		if block.IsValid && block.Tag == blockAddr {
			return block, true
		}
	}

	return nil, false
}

func (d *tagArrayImpl) Block(setID, wayID int) *Block {
	return d.Sets[setID].Blocks[wayID]
}

func (d *tagArrayImpl) NumValid() int {
	n := 0

	for _, set := range d.Sets {
		for _, b := range set.Blocks {
			if b.IsValid {
				n++
			}
		}
	}

	return n
}

// Reset will mark all the blocks in the directory invalid
func (d *tagArrayImpl) Reset() {
	d.Sets = make([]Set, d.NumSets)
	for i := 0; i < d.NumSets; i++ {
		for j := 0; j < d.NumWays; j++ {
			block := &Block{
				SetID:        i,
				WayID:        j,
				CacheAddress: uint64(i*d.NumWays+j) * uint64(d.BlockSize),
			}

			d.Sets[i].Blocks = append(d.Sets[i].Blocks, block)
		}
	}
}

func (d *tagArrayImpl) State() []BlockState {
	state := []BlockState{}

	for _, set := range d.Sets {
		for _, b := range set.Blocks {
			if !b.IsValid {
				continue
			}

			state = append(state, BlockState{
				SetID:      b.SetID,
				WayID:      b.WayID,
				Tag:        b.Tag,
				IsDirty:    b.IsDirty,
				Prefetched: b.Prefetched,
				Repl:       b.Repl,
			})
		}
	}

	return state
}

func (d *tagArrayImpl) SetState(blocks []BlockState) error {
	d.Reset()

	for _, s := range blocks {
		if s.SetID < 0 || s.SetID >= d.NumSets ||
			s.WayID < 0 || s.WayID >= d.NumWays {
			return fmt.Errorf("block (%d, %d) is outside the tag array",
				s.SetID, s.WayID)
		}

		_, setID := d.GetSet(s.Tag)
		if setID != s.SetID {
			return fmt.Errorf("block 0x%x does not map to set %d",
				s.Tag, s.SetID)
		}

		b := d.Sets[s.SetID].Blocks[s.WayID]
		b.Tag = s.Tag
		b.IsValid = true
		b.IsDirty = s.IsDirty
		b.Prefetched = s.Prefetched
		b.Repl = s.Repl
	}

	return nil
}
