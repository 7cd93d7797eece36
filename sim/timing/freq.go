package timing

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
)

// VTime is the simulated time, counted in ticks.
type VTime uint64

// TicksPerSecond is the tick resolution. One tick is one picosecond.
const TicksPerSecond = 1_000_000_000_000

// MaxVTime is the largest representable simulated time.
const MaxVTime = VTime(math.MaxUint64)

// Seconds converts the time to seconds.
func (t VTime) Seconds() float64 {
	return float64(t) / TicksPerSecond
}

// Freq defines the type of frequency, in Hz.
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the length of one cycle in ticks.
func (f Freq) Period() VTime {
	if f <= 0 {
		log.Panicf("frequency must be positive, got %f", float64(f))
	}

	p := math.Round(TicksPerSecond / float64(f))
	if p < 1 {
		log.Panicf("frequency %s is higher than the tick resolution", f)
	}

	return VTime(p)
}

// Cycle converts a time to the number of cycles passed since time 0.
func (f Freq) Cycle(t VTime) uint64 {
	return uint64(t / f.Period())
}

// ThisTick returns the current tick time, rounded up to the next edge if the
// given time is not on a clock edge.
func (f Freq) ThisTick(now VTime) VTime {
	p := f.Period()

	if now%p == 0 {
		return now
	}

	return (now/p + 1) * p
}

// NextTick returns the clock edge after now.
func (f Freq) NextTick(now VTime) VTime {
	p := f.Period()

	return (now/p + 1) * p
}

// NCyclesLater returns the time n cycles after the current tick.
func (f Freq) NCyclesLater(n int, now VTime) VTime {
	return f.ThisTick(now) + VTime(n)*f.Period()
}

// NoEarlierThan returns the first clock edge that is not earlier than t.
func (f Freq) NoEarlierThan(t VTime) VTime {
	return f.ThisTick(t)
}

func (f Freq) String() string {
	switch {
	case f >= GHz:
		return fmt.Sprintf("%gGHz", float64(f/GHz))
	case f >= MHz:
		return fmt.Sprintf("%gMHz", float64(f/MHz))
	case f >= KHz:
		return fmt.Sprintf("%gkHz", float64(f/KHz))
	default:
		return fmt.Sprintf("%gHz", float64(f))
	}
}

// ParseFreq parses frequencies such as "3GHz", "800MHz", or "1e9".
func ParseFreq(s string) (Freq, error) {
	str := strings.TrimSpace(s)
	lower := strings.ToLower(str)

	unit := Hz

	for _, u := range []struct {
		suffix string
		unit   Freq
	}{
		{"ghz", GHz}, {"mhz", MHz}, {"khz", KHz}, {"hz", Hz},
	} {
		if strings.HasSuffix(lower, u.suffix) {
			unit = u.unit
			str = strings.TrimSpace(str[:len(str)-len(u.suffix)])

			break
		}
	}

	v, err := strconv.ParseFloat(str, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}

	return Freq(v) * unit, nil
}
