package mem

import (
	"fmt"

	"github.com/sarchlab/o3sim/sim/modeling"
)

// AddressToPortMapper helps a cache unit or a crossbar to find the low module
// that should hold the data at a certain address
type AddressToPortMapper interface {
	Find(address uint64) modeling.RemotePort
}

// SinglePortMapper is used when a unit is connected with only one
// low module
type SinglePortMapper struct {
	Port modeling.RemotePort
}

// Find simply returns the solo unit that it connects to
func (f *SinglePortMapper) Find(_ uint64) modeling.RemotePort {
	return f.Port
}

// AddrRange is a half-open address range [Start, Start+Size).
type AddrRange struct {
	Start uint64
	Size  uint64
}

// Contains checks if the address falls in the range.
func (r AddrRange) Contains(addr uint64) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

// Overlaps checks if two ranges share an address.
func (r AddrRange) Overlaps(o AddrRange) bool {
	return r.Start < o.Start+o.Size && o.Start < r.Start+r.Size
}

func (r AddrRange) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.Start, r.Start+r.Size)
}

type rangeEntry struct {
	addrRange AddrRange
	port      modeling.RemotePort
}

// RangePortMapper routes by address ranges, such as a device window in front
// of main memory. Addresses outside every range go to the default port.
type RangePortMapper struct {
	entries     []rangeEntry
	DefaultPort modeling.RemotePort
}

// AddRange routes the address range to the port. Overlapping ranges are
// rejected.
func (f *RangePortMapper) AddRange(
	r AddrRange,
	port modeling.RemotePort,
) error {
	for _, e := range f.entries {
		if e.addrRange.Overlaps(r) {
			return fmt.Errorf("address range %s of %s overlaps %s of %s",
				r, port, e.addrRange, e.port)
		}
	}

	f.entries = append(f.entries, rangeEntry{addrRange: r, port: port})

	return nil
}

// Find returns the port that serves the address.
func (f *RangePortMapper) Find(address uint64) modeling.RemotePort {
	for _, e := range f.entries {
		if e.addrRange.Contains(address) {
			return e.port
		}
	}

	if f.DefaultPort == "" {
		panic(fmt.Sprintf("no port serves address 0x%x", address))
	}

	return f.DefaultPort
}

// Ports returns every port that the mapper may return.
func (f *RangePortMapper) Ports() []modeling.RemotePort {
	out := make([]modeling.RemotePort, 0, len(f.entries)+1)
	for _, e := range f.entries {
		out = append(out, e.port)
	}

	if f.DefaultPort != "" {
		out = append(out, f.DefaultPort)
	}

	return out
}
