package modeling

import (
	"fmt"
	"strings"
)

// A PortOwner is an element that can communicate with others through ports.
type PortOwner interface {
	AddPort(name string, port Port)
	GetPortByName(name string) Port
	Ports() []Port
}

// PortOwnerBase provides an implementation of the PortOwner interface.
type PortOwnerBase struct {
	ports       []Port
	portsByName map[string]Port
}

// MakePortOwnerBase creates a new PortOwnerBase
func MakePortOwnerBase() PortOwnerBase {
	return PortOwnerBase{
		ports:       make([]Port, 0),
		portsByName: make(map[string]Port),
	}
}

// AddPort adds a new port with a given name.
func (po *PortOwnerBase) AddPort(name string, port Port) {
	if _, found := po.portsByName[name]; found {
		panic("port " + name + " already exist")
	}

	po.ports = append(po.ports, port)
	po.portsByName[name] = port
}

// GetPortByName returns the port according to the name of the port. This
// function panics when the given name is not found.
func (po *PortOwnerBase) GetPortByName(name string) Port {
	port, found := po.portsByName[name]
	if !found {
		available := make([]string, 0, len(po.ports))
		for _, p := range po.ports {
			available = append(available, p.Name())
		}

		panic(fmt.Sprintf("port %s is not available, available ports: %s",
			name, strings.Join(available, ", ")))
	}

	return port
}

// Ports returns a slices of all the ports owned by the PortOwner.
func (po *PortOwnerBase) Ports() []Port {
	return po.ports
}
