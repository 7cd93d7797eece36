package system

import (
	"errors"
	"fmt"
)

// Causes of the assembly errors that are not raised by the port layer.
var (
	ErrUnconnectedPort   = errors.New("unconnected port")
	ErrCyclicGraph       = errors.New("request graph has a cycle")
	ErrNoWorkload        = errors.New("no workload")
	ErrConflictingRanges = errors.New("conflicting address ranges")
)

// A ConfigurationError is found while assembling or instantiating a system.
// The simulation cannot start after one.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Field, e.Err)
}

// Unwrap returns the cause of the error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
