// Package provider holds shared wire-format helpers for the two market-data
// providers. Each provider's frame translation lives in its own subpackage.
package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Number decodes a provider numeric field regardless of shape: a JSON
// number, a number-in-string, or either wrapped in a one-element array.
// Both providers are inconsistent about this across message kinds, so the
// normalization happens once here at the boundary.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	// Array-wrapped: take the first element.
	if data[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("provider: array-wrapped number: %w", err)
		}
		if len(arr) == 0 {
			*n = 0
			return nil
		}
		return n.UnmarshalJSON(arr[0])
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("provider: quoted number: %w", err)
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("provider: parse %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("provider: number: %w", err)
	}
	*n = Number(f)
	return nil
}

// Float returns the plain float64 value.
func (n Number) Float() float64 { return float64(n) }
