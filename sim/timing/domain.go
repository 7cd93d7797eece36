package timing

import "sync"

// VoltageDomain groups clock domains that share a supply voltage. It carries
// no timing behavior.
type VoltageDomain struct {
	Name    string
	Voltage float64
}

// A ClockDomain is a named frequency shared by a group of components. All the
// components in the same clock domain tick on the same edges.
type ClockDomain struct {
	lock    sync.Mutex
	name    string
	freq    Freq
	voltage *VoltageDomain
	members []string
}

// NewClockDomain creates a clock domain.
func NewClockDomain(
	name string,
	freq Freq,
	voltage *VoltageDomain,
) *ClockDomain {
	freq.Period()

	return &ClockDomain{
		name:    name,
		freq:    freq,
		voltage: voltage,
	}
}

// Name returns the name of the clock domain.
func (d *ClockDomain) Name() string {
	return d.name
}

// Freq returns the frequency of the clock domain.
func (d *ClockDomain) Freq() Freq {
	return d.freq
}

// Period returns the cycle length in ticks.
func (d *ClockDomain) Period() VTime {
	return d.freq.Period()
}

// Voltage returns the voltage domain that the clock domain belongs to.
func (d *ClockDomain) Voltage() *VoltageDomain {
	return d.voltage
}

// Subscribe records that a component is clocked by this domain.
func (d *ClockDomain) Subscribe(componentName string) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.members = append(d.members, componentName)
}

// Members returns the names of the components clocked by this domain.
func (d *ClockDomain) Members() []string {
	d.lock.Lock()
	defer d.lock.Unlock()

	out := make([]string, len(d.members))
	copy(out, d.members)

	return out
}
