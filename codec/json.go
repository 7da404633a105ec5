// Package codec provides ready-made property converters for the jcrom mapper.
package codec

import (
	"github.com/goccy/go-json"

	jcrom "github.com/jmptrader/jcrom"
)

// JSON returns a Converter storing values of type T as a JSON text property.
// It is the opt-in escape hatch for field types outside the store's primitive
// set; round-trip fidelity follows encoding/json semantics for T.
func JSON[T any]() jcrom.Converter {
	return jcrom.NewConverter(
		func(v T) (jcrom.Value, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return jcrom.Value{}, err
			}
			return jcrom.StringValue(string(b)), nil
		},
		func(v jcrom.Value) (T, error) {
			var out T
			if err := json.Unmarshal([]byte(v.Str()), &out); err != nil {
				return out, err
			}
			return out, nil
		},
	)
}
