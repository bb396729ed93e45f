package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsupportedValue is returned when a Go value has no metadata kind.
var ErrUnsupportedValue = errors.New("unsupported metadata value")

// FromAny converts a Go value into a typed Value.
//
// This is the adapter layer for JSON input and legacy map[string]any APIs.
// nil is rejected: the value set has no null.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, fmt.Errorf("%w: null", ErrUnsupportedValue)
	case Value:
		if !x.IsValid() {
			return Value{}, fmt.Errorf("%w: invalid value", ErrUnsupportedValue)
		}
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrUnsupportedValue, x.String())
		}
		return Float(f), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return fromUint64(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return fromUint64(x)
	case []Value:
		return Array(x), nil
	case []any:
		arr := make([]Value, len(x))
		for i := range x {
			vv, err := FromAny(x[i])
			if err != nil {
				return Value{}, err
			}
			arr[i] = vv
		}
		return Array(arr), nil
	case []string:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = String(x[i])
		}
		return Array(arr), nil
	case []int:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = Int(int64(x[i]))
		}
		return Array(arr), nil
	case []float64:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = Float(x[i])
		}
		return Array(arr), nil
	case map[string]Value:
		return Map(x), nil
	case Document:
		return Map(x), nil
	case map[string]any:
		d, err := DocumentFromAny(x)
		if err != nil {
			return Value{}, err
		}
		return Map(d), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func fromUint64(x uint64) (Value, error) {
	if x > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: uint64 out of range: %d", ErrUnsupportedValue, x)
	}
	return Int(int64(x)), nil
}

// DocumentFromAny converts a map[string]any document to a typed Document.
// A nil map yields a nil Document.
func DocumentFromAny(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	d := make(Document, len(m))
	for k, v := range m {
		vv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("metadata field %q: %w", k, err)
		}
		d[k] = vv
	}
	return d, nil
}

// ToAny converts a Value back into plain Go values (int64, float64, string,
// bool, []any, map[string]any).
func (v Value) ToAny() any {
	switch v.Kind {
	case KindInt:
		return v.I64
	case KindFloat:
		return v.F64
	case KindString:
		return v.s.Value()
	case KindBool:
		return v.B
	case KindArray:
		out := make([]any, len(v.A))
		for i := range v.A {
			out[i] = v.A[i].ToAny()
		}
		return out
	case KindMap:
		return Document(v.M).ToAny()
	default:
		return nil
	}
}

// ToAny converts the document into a map[string]any.
func (d Document) ToAny() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.ToAny()
	}
	return out
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return strconv.AppendInt(nil, v.I64, 10), nil
	case KindFloat:
		if math.IsNaN(v.F64) || math.IsInf(v.F64, 0) {
			return nil, fmt.Errorf("%w: non-finite float", ErrUnsupportedValue)
		}
		return json.Marshal(v.F64)
	case KindInvalid:
		return nil, fmt.Errorf("%w: invalid value", ErrUnsupportedValue)
	default:
		return json.Marshal(v.ToAny())
	}
}

// UnmarshalJSON decodes plain JSON, keeping integral numbers as ints.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := decodeJSON(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalJSON decodes a JSON object into a Document. JSON null yields a
// nil Document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return err
	}
	doc, err := DocumentFromAny(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
