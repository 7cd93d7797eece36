package xbar

import (
	"fmt"

	"github.com/sarchlab/o3sim/sim/modeling"
)

// Arbitration selects how the crossbar orders competing inputs.
type Arbitration int

// Arbitration policies.
const (
	// ArbitrationFixedPriority always serves lower port indices first.
	ArbitrationFixedPriority Arbitration = iota

	// ArbitrationRoundRobin rotates the first-served port every cycle.
	ArbitrationRoundRobin
)

func (a Arbitration) String() string {
	switch a {
	case ArbitrationFixedPriority:
		return "fixed"
	case ArbitrationRoundRobin:
		return "roundrobin"
	default:
		return fmt.Sprintf("Arbitration(%d)", int(a))
	}
}

// ParseArbitration converts a policy name into an Arbitration.
func ParseArbitration(name string) (Arbitration, error) {
	switch name {
	case "fixed", "fixedpriority":
		return ArbitrationFixedPriority, nil
	case "roundrobin", "rr":
		return ArbitrationRoundRobin, nil
	}

	return 0, fmt.Errorf("unknown arbitration policy %q", name)
}

// An Arbiter decides the order in which input ports are served.
type Arbiter interface {
	AddPort(port modeling.Port)

	// Arbitrate returns the ports that hold incoming messages, in the order
	// they are served in this cycle.
	Arbitrate() []modeling.Port
}

// NewArbiter creates the arbiter of a policy.
func NewArbiter(a Arbitration) Arbiter {
	switch a {
	case ArbitrationRoundRobin:
		return &roundRobinArbiter{}
	default:
		return &fixedPriorityArbiter{}
	}
}

type fixedPriorityArbiter struct {
	ports []modeling.Port
}

func (a *fixedPriorityArbiter) AddPort(port modeling.Port) {
	a.ports = append(a.ports, port)
}

func (a *fixedPriorityArbiter) Arbitrate() []modeling.Port {
	var out []modeling.Port

	for _, p := range a.ports {
		if p.PeekIncoming() != nil {
			out = append(out, p)
		}
	}

	return out
}

type roundRobinArbiter struct {
	ports []modeling.Port
	next  int
}

func (a *roundRobinArbiter) AddPort(port modeling.Port) {
	a.ports = append(a.ports, port)
}

func (a *roundRobinArbiter) Arbitrate() []modeling.Port {
	var out []modeling.Port

	n := len(a.ports)
	first := -1

	for i := range n {
		idx := (a.next + i) % n
		p := a.ports[idx]

		if p.PeekIncoming() == nil {
			continue
		}

		if first < 0 {
			first = idx
		}

		out = append(out, p)
	}

	if first >= 0 {
		a.next = (first + 1) % n
	}

	return out
}
