// Package stateful defines how simulation elements expose their state for
// checkpointing.
package stateful

import (
	"encoding/json"
	"io"

	"github.com/sarchlab/o3sim/sim/naming"
)

// A StateHolder is an element whose state can be saved and restored.
type StateHolder interface {
	naming.Named

	// State returns a JSON-serializable snapshot of the state.
	State() any

	// SetState replaces the state with a snapshot produced by State.
	SetState(data json.RawMessage) error
}

// Codec determines how states is encoded.
type Codec interface {
	Encode(w io.Writer, data map[string]any) error
	Decode(r io.Reader) (map[string]json.RawMessage, error)
}

// JSONCodec encodes states as a single JSON object keyed by holder name.
type JSONCodec struct {
	Indent bool
}

// Encode writes the data map as JSON to the provided writer
func (c JSONCodec) Encode(w io.Writer, data map[string]any) error {
	encoder := json.NewEncoder(w)
	if c.Indent {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(data)
}

// Decode reads JSON data from the reader and returns it as a map
func (c JSONCodec) Decode(r io.Reader) (map[string]json.RawMessage, error) {
	decoder := json.NewDecoder(r)

	var data map[string]json.RawMessage

	err := decoder.Decode(&data)
	if err != nil {
		return nil, err
	}

	return data, nil
}
