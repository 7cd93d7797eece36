package dram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Timing holds the DRAM timing parameters, in memory clock cycles.
type Timing struct {
	TCL    int `yaml:"tCL" json:"tCL"`
	TRCD   int `yaml:"tRCD" json:"tRCD"`
	TRP    int `yaml:"tRP" json:"tRP"`
	TBurst int `yaml:"tBURST" json:"tBURST"`
}

// Validate checks that every parameter is positive.
func (t Timing) Validate() error {
	if t.TCL <= 0 || t.TRCD <= 0 || t.TRP <= 0 || t.TBurst <= 0 {
		return fmt.Errorf("dram timing must be positive, got %+v", t)
	}

	return nil
}

// A Preset describes a DRAM part.
type Preset struct {
	Name          string
	Freq          timing.Freq
	NumBanks      int
	RowBufferSize uint64
	Timing        Timing
}

var presets = map[string]Preset{
	// DDR3-1600 with eight x8 devices per rank: 800 MHz bus clock, 8 banks,
	// 1 kB row buffer per device, 13.75 ns CAS, RCD and RP, and a 5 ns
	// burst of 8.
	"DDR3_1600_8x8": {
		Name:          "DDR3_1600_8x8",
		Freq:          800 * timing.MHz,
		NumBanks:      8,
		RowBufferSize: 8 * mem.KB,
		Timing:        Timing{TCL: 11, TRCD: 11, TRP: 11, TBurst: 4},
	},
	"DDR3_2133_8x8": {
		Name:          "DDR3_2133_8x8",
		Freq:          1066 * timing.MHz,
		NumBanks:      8,
		RowBufferSize: 8 * mem.KB,
		Timing:        Timing{TCL: 14, TRCD: 14, TRP: 14, TBurst: 4},
	},
	"DDR4_2400_8x8": {
		Name:          "DDR4_2400_8x8",
		Freq:          1200 * timing.MHz,
		NumBanks:      16,
		RowBufferSize: 8 * mem.KB,
		Timing:        Timing{TCL: 17, TRCD: 17, TRP: 17, TBurst: 4},
	},
}

// LookupPreset returns a preset by name.
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown dram preset %q, known: %s",
			name, strings.Join(PresetNames(), ", "))
	}

	return p, nil
}

// PresetNames lists the known presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
