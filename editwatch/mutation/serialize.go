package mutation

import (
	"encoding/json"
	"fmt"
)

// MarshalChange serialises a Change to JSON.
func MarshalChange(c *Change) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalChange deserialises a Change from JSON.
func UnmarshalChange(data []byte) (*Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UnmarshalBatch decodes an agent batch payload and rejects unknown kinds.
func UnmarshalBatch(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	for i, r := range b {
		if !r.Kind.Valid() {
			return nil, fmt.Errorf("mutation: record %d: unknown kind %q", i, r.Kind)
		}
	}
	return b, nil
}
