package mem

import (
	"fmt"
	"strconv"
	"strings"
)

// Size units, in bytes.
const (
	KB uint64 = 1 << 10
	MB uint64 = 1 << 20
	GB uint64 = 1 << 30
)

// ParseSize parses sizes such as "32kB", "256KiB", "4GB", or "64". Units are
// powers of two.
func ParseSize(s string) (uint64, error) {
	str := strings.TrimSpace(s)
	lower := strings.ToLower(str)

	units := []struct {
		suffix string
		factor uint64
	}{
		{"kib", KB}, {"mib", MB}, {"gib", GB},
		{"kb", KB}, {"mb", MB}, {"gb", GB},
		{"k", KB}, {"m", MB}, {"g", GB},
		{"b", 1},
	}

	factor := uint64(1)

	for _, u := range units {
		if strings.HasSuffix(lower, u.suffix) {
			factor = u.factor
			str = strings.TrimSpace(str[:len(str)-len(u.suffix)])

			break
		}
	}

	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return n * factor, nil
}

// FormatSize prints a size with the largest unit that divides it.
func FormatSize(n uint64) string {
	switch {
	case n != 0 && n%GB == 0:
		return fmt.Sprintf("%dGB", n/GB)
	case n != 0 && n%MB == 0:
		return fmt.Sprintf("%dMB", n/MB)
	case n != 0 && n%KB == 0:
		return fmt.Sprintf("%dkB", n/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
