package cpmodel

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes the wire form of a model and validates it so a
// malformed payload never reaches a solver.
func (m *Model) UnmarshalJSON(data []byte) error {
	type plain Model
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	decoded := Model(p)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*m = decoded
	return nil
}
