package metadata

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"unique"
)

// Kind identifies the concrete type stored in a Value.
// Kinds are persisted in the binary encoding; keep the values stable.
type Kind uint8

const (
	// KindInvalid is the zero Value.
	KindInvalid Kind = 0
	// KindInt represents an integer number.
	KindInt Kind = 2
	// KindFloat represents a floating point number.
	KindFloat Kind = 3
	// KindString represents a string.
	KindString Kind = 4
	// KindBool represents a boolean.
	KindBool Kind = 5
	// KindArray represents a list of values.
	KindArray Kind = 6
	// KindMap represents a nested mapping.
	KindMap Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a small typed value used for metadata documents and filters.
//
// No reflection is involved in comparisons; strings are interned.
type Value struct {
	Kind Kind
	I64  int64
	F64  float64
	s    unique.Handle[string]
	B    bool
	A    []Value
	M    map[string]Value
}

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, s: unique.Make(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Array returns a list Value.
func Array(v []Value) Value { return Value{Kind: KindArray, A: v} }

// Map returns a nested mapping Value.
func Map(v map[string]Value) Value { return Value{Kind: KindMap, M: v} }

// IsValid reports whether v holds one of the supported kinds.
func (v Value) IsValid() bool { return v.Kind != KindInvalid }

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// StringValue returns the string value if Kind is KindString, otherwise empty string.
func (v Value) StringValue() string {
	if v.Kind == KindString {
		return v.s.Value()
	}
	return ""
}

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the numeric value as float64 for ints and floats.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.s.Value(), true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsArray returns the list if Kind is KindArray.
func (v Value) AsArray() ([]Value, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	return v.A, true
}

// AsMap returns the mapping if Kind is KindMap.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.M, true
}

// Key returns a stable string representation for use in maps.
//
// Integral floats share the key of the equal integer so that Int(3) and
// Float(3) land in the same posting list.
func (v Value) Key() string {
	switch v.Kind {
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		if i, ok := integralFloat(v.F64); ok {
			return "i:" + strconv.FormatInt(i, 10)
		}
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.s.Value()
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	case KindArray:
		parts := make([]string, len(v.A))
		for i := range v.A {
			parts[i] = v.A[i].Key()
		}
		return "a:" + strings.Join(parts, "\x1f")
	case KindMap:
		keys := sortedKeys(v.M)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.M[k].Key()
		}
		return "m:" + strings.Join(parts, "\x1f")
	default:
		return "invalid"
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindArray:
		if v.A == nil {
			return v
		}
		arr := make([]Value, len(v.A))
		for i := range v.A {
			arr[i] = v.A[i].Clone()
		}
		v.A = arr
	case KindMap:
		if v.M == nil {
			return v
		}
		m := make(map[string]Value, len(v.M))
		for k, item := range v.M {
			m[k] = item.Clone()
		}
		v.M = m
	}
	return v
}

// Equal reports whether two values are equal. Numbers compare by value
// across int and float.
func (v Value) Equal(other Value) bool {
	return compareEqual(v, other)
}

// integralFloat converts f to int64 when it holds an exact integer in range.
func integralFloat(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Document is a typed metadata document.
type Document map[string]Value

// Clone creates a deep copy of the document, including nested lists and
// mappings. A nil document stays nil.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v.Clone()
	}
	return clone
}

// Lookup returns the value stored under path.
//
// A literal key wins; otherwise a dotted path descends into nested
// mappings ("author.name").
func (d Document) Lookup(path string) (Value, bool) {
	if v, ok := d[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return Value{}, false
	}
	v, ok := d[head]
	if !ok || v.Kind != KindMap {
		return Value{}, false
	}
	return Document(v.M).Lookup(rest)
}

// Equal reports whether two documents hold the same keys and values.
// A nil document equals an empty one.
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		ov, ok := other[k]
		if !ok || !compareEqual(v, ov) || v.Kind != ov.Kind {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
