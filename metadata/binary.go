package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorrupt is returned when binary metadata cannot be decoded.
var ErrCorrupt = errors.New("corrupt metadata encoding")

// maxDepth bounds nesting of lists and mappings while decoding.
const maxDepth = 64

// AppendBinary appends the compact binary encoding of d to buf.
// Keys are written in sorted order so equal documents encode identically.
func (d Document) AppendBinary(buf []byte) ([]byte, error) {
	return appendMap(buf, d, 0)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d Document) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(make([]byte, 0, 1+len(d)*16))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Document) UnmarshalBinary(data []byte) error {
	m, rest, err := parseMap(data, 0)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(rest))
	}
	if len(m) == 0 {
		*d = nil
		return nil
	}
	*d = m
	return nil
}

func appendMap(buf []byte, m map[string]Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, maxDepth)
	}
	buf = binary.AppendUvarint(buf, uint64(len(m)))
	for _, k := range sortedKeys(m) {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)

		var err error
		buf, err = appendValue(buf, m[k], depth)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendValue(buf []byte, v Value, depth int) ([]byte, error) {
	buf = append(buf, byte(v.Kind))

	switch v.Kind {
	case KindInt:
		buf = binary.AppendVarint(buf, v.I64)
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
	case KindString:
		s := v.s.Value()
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindArray:
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, maxDepth)
		}
		buf = binary.AppendUvarint(buf, uint64(len(v.A)))
		for _, item := range v.A {
			var err error
			buf, err = appendValue(buf, item, depth+1)
			if err != nil {
				return nil, err
			}
		}
	case KindMap:
		return appendMap(buf, v.M, depth+1)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedValue, v.Kind)
	}
	return buf, nil
}

func parseMap(data []byte, depth int) (map[string]Value, []byte, error) {
	if depth > maxDepth {
		return nil, nil, fmt.Errorf("%w: nesting too deep", ErrCorrupt)
	}
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: invalid map length", ErrCorrupt)
	}
	data = data[n:]
	// Each entry needs at least a key length byte and a kind byte.
	if count > uint64(len(data))/2 {
		return nil, nil, fmt.Errorf("%w: map length %d exceeds buffer", ErrCorrupt, count)
	}

	m := make(map[string]Value, count)
	for range count {
		kLen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, nil, fmt.Errorf("%w: invalid key length", ErrCorrupt)
		}
		data = data[n:]
		if uint64(len(data)) < kLen {
			return nil, nil, fmt.Errorf("%w: short buffer for key", ErrCorrupt)
		}
		key := string(data[:kLen])
		data = data[kLen:]

		val, rest, err := parseValue(data, depth)
		if err != nil {
			return nil, nil, err
		}
		m[key] = val
		data = rest
	}
	return m, data, nil
}

func parseValue(data []byte, depth int) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, fmt.Errorf("%w: short buffer for value kind", ErrCorrupt)
	}
	kind := Kind(data[0])
	data = data[1:]

	switch kind {
	case KindInt:
		i, n := binary.Varint(data)
		if n <= 0 {
			return Value{}, nil, fmt.Errorf("%w: invalid int", ErrCorrupt)
		}
		return Int(i), data[n:], nil
	case KindFloat:
		if len(data) < 8 {
			return Value{}, nil, fmt.Errorf("%w: short buffer for float", ErrCorrupt)
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(data))), data[8:], nil
	case KindString:
		sLen, n := binary.Uvarint(data)
		if n <= 0 {
			return Value{}, nil, fmt.Errorf("%w: invalid string length", ErrCorrupt)
		}
		data = data[n:]
		if uint64(len(data)) < sLen {
			return Value{}, nil, fmt.Errorf("%w: short buffer for string", ErrCorrupt)
		}
		return String(string(data[:sLen])), data[sLen:], nil
	case KindBool:
		if len(data) < 1 {
			return Value{}, nil, fmt.Errorf("%w: short buffer for bool", ErrCorrupt)
		}
		return Bool(data[0] != 0), data[1:], nil
	case KindArray:
		if depth >= maxDepth {
			return Value{}, nil, fmt.Errorf("%w: nesting too deep", ErrCorrupt)
		}
		count, n := binary.Uvarint(data)
		if n <= 0 {
			return Value{}, nil, fmt.Errorf("%w: invalid array length", ErrCorrupt)
		}
		data = data[n:]
		if count > uint64(len(data)) {
			return Value{}, nil, fmt.Errorf("%w: array length %d exceeds buffer", ErrCorrupt, count)
		}
		arr := make([]Value, count)
		for i := range arr {
			item, rest, err := parseValue(data, depth+1)
			if err != nil {
				return Value{}, nil, err
			}
			arr[i] = item
			data = rest
		}
		return Array(arr), data, nil
	case KindMap:
		m, rest, err := parseMap(data, depth+1)
		if err != nil {
			return Value{}, nil, err
		}
		return Map(m), rest, nil
	default:
		return Value{}, nil, fmt.Errorf("%w: unknown kind %d", ErrCorrupt, kind)
	}
}
