// Package simulation keeps track of everything that makes up a simulation: the
// engine, the components and their ports, and the elements that can be
// checkpointed.
package simulation

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/stateful"
	"github.com/sarchlab/o3sim/sim/timing"
)

// A Simulation provides the service requires to define a simulation.
type Simulation struct {
	engine timing.Engine

	components    []modeling.Component
	compNameIndex map[string]int
	ports         []modeling.Port
	portNameIndex map[string]int

	stateHolders map[string]stateful.StateHolder
	codec        stateful.Codec
}

// NewSimulation creates a new simulation.
func NewSimulation() *Simulation {
	return &Simulation{
		compNameIndex: make(map[string]int),
		portNameIndex: make(map[string]int),
		stateHolders:  make(map[string]stateful.StateHolder),
		codec:         stateful.JSONCodec{Indent: true},
	}
}

// RegisterEngine registers the engine used in the simulation.
func (s *Simulation) RegisterEngine(e timing.Engine) {
	s.engine = e
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() timing.Engine {
	return s.engine
}

// RegisterComponent registers a component and all its ports with the
// simulation.
func (s *Simulation) RegisterComponent(c modeling.Component) {
	compName := c.Name()
	if _, found := s.compNameIndex[compName]; found {
		panic("component " + compName + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[compName] = len(s.components) - 1

	for _, p := range c.Ports() {
		s.registerPort(p)
	}

	if holder, ok := c.(stateful.StateHolder); ok {
		s.RegisterStateHolder(holder)
	}
}

func (s *Simulation) registerPort(p modeling.Port) {
	portName := p.Name()
	if _, found := s.portNameIndex[portName]; found {
		panic("port " + portName + " already registered")
	}

	s.ports = append(s.ports, p)
	s.portNameIndex[portName] = len(s.ports) - 1
}

// RegisterStateHolder registers an element whose state is checkpointed.
func (s *Simulation) RegisterStateHolder(h stateful.StateHolder) {
	if _, found := s.stateHolders[h.Name()]; found {
		panic("state holder " + h.Name() + " already registered")
	}

	s.stateHolders[h.Name()] = h
}

// Components returns all the registered components in registration order.
func (s *Simulation) Components() []modeling.Component {
	return s.components
}

// GetComponentByName returns the component with the given name, or nil.
func (s *Simulation) GetComponentByName(name string) modeling.Component {
	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.components[i]
}

// Ports returns all the registered ports.
func (s *Simulation) Ports() []modeling.Port {
	return s.ports
}

// GetPortByName returns the port with the given name, or nil.
func (s *Simulation) GetPortByName(name string) modeling.Port {
	i, found := s.portNameIndex[name]
	if !found {
		return nil
	}

	return s.ports[i]
}

// UnconnectedPorts lists the registered ports that have no connection.
func (s *Simulation) UnconnectedPorts() []modeling.Port {
	var out []modeling.Port

	for _, p := range s.ports {
		if p.Connection() == nil {
			out = append(out, p)
		}
	}

	return out
}

// Save writes the state of every state holder.
func (s *Simulation) Save(w io.Writer) error {
	data := make(map[string]any, len(s.stateHolders))
	for name, h := range s.stateHolders {
		data[name] = h.State()
	}

	return s.codec.Encode(w, data)
}

// Load restores the state of every state holder. Every registered holder must
// appear in the input.
func (s *Simulation) Load(r io.Reader) error {
	data, err := s.codec.Decode(r)
	if err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}

	names := make([]string, 0, len(s.stateHolders))
	for name := range s.stateHolders {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, found := data[name]
		if !found {
			return fmt.Errorf("checkpoint has no state for %s", name)
		}

		err := s.stateHolders[name].SetState(raw)
		if err != nil {
			return fmt.Errorf("restoring %s: %w", name, err)
		}
	}

	return nil
}
