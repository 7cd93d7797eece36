package tagging

import "github.com/sarchlab/o3sim/mem/cache/replacement"

// A VictimFinder decides with block should be evicted
type VictimFinder interface {
	FindVictim(tags TagArray, blockAddr uint64) (*Block, bool)
}

// PolicyVictimFinder picks an invalid block first and otherwise lets a
// replacement policy choose among the blocks that are not busy.
type PolicyVictimFinder struct {
	Policy replacement.Policy
}

// NewPolicyVictimFinder returns a victim finder that uses the policy.
func NewPolicyVictimFinder(p replacement.Policy) *PolicyVictimFinder {
	return &PolicyVictimFinder{Policy: p}
}

// FindVictim returns the block to replace. It returns false if every block
// of the set is busy.
func (e *PolicyVictimFinder) FindVictim(
	tags TagArray,
	blockAddr uint64,
) (*Block, bool) {
	set, _ := tags.GetSet(blockAddr)

	for _, block := range set.Blocks {
		if !block.IsValid && !block.IsBusy() {
			return block, true
		}
	}

	blocks := make([]*Block, 0, len(set.Blocks))
	entries := make([]*replacement.Entry, 0, len(set.Blocks))

	for _, block := range set.Blocks {
		if block.IsBusy() {
			continue
		}

		blocks = append(blocks, block)
		entries = append(entries, &block.Repl)
	}

	if len(blocks) == 0 {
		return nil, false
	}

	return blocks[e.Policy.Victim(entries)], true
}
