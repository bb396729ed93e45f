package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

var operatorNames = map[string]Operator{
	"$eq":  OpEqual,
	"$gt":  OpGreaterThan,
	"$gte": OpGreaterEqual,
	"$lt":  OpLessThan,
	"$lte": OpLessEqual,
	"$in":  OpIn,
}

// ParseFilter builds a FilterSet from a JSON-style expression.
//
//	{"category": "AI"}                      equality
//	{"year": {"$gte": 2020, "$lt": 2025}}   numeric comparison
//	{"tag": {"$in": ["a", "b"]}}            membership
//	{"$and": [{...}, {...}]}                conjunction
//
// Top-level keys are combined with AND. "$or", "$not" and unknown operators
// are rejected with ErrInvalidFilter. A nil or empty expression yields a nil
// set, which matches everything.
func ParseFilter(expr map[string]any) (*FilterSet, error) {
	if len(expr) == 0 {
		return nil, nil
	}
	fs := &FilterSet{}
	if err := parseInto(fs, expr); err != nil {
		return nil, err
	}
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	return fs, nil
}

func parseInto(fs *FilterSet, expr map[string]any) error {
	for _, key := range sortedKeys(expr) {
		raw := expr[key]

		if key == "$and" {
			clauses, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("%w: $and needs a list of objects", ErrInvalidFilter)
			}
			for _, c := range clauses {
				sub, ok := c.(map[string]any)
				if !ok {
					return fmt.Errorf("%w: $and needs a list of objects", ErrInvalidFilter)
				}
				if err := parseInto(fs, sub); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, key)
		}

		if ops, ok := raw.(map[string]any); ok && isOperatorObject(ops) {
			for _, opName := range sortedKeys(ops) {
				op, known := operatorNames[opName]
				if !known {
					return fmt.Errorf("%w: unsupported operator %q on %q", ErrInvalidFilter, opName, key)
				}
				val, err := FromAny(ops[opName])
				if err != nil {
					return fmt.Errorf("%w: %s: %w", ErrInvalidFilter, key, err)
				}
				fs.Filters = append(fs.Filters, Filter{Key: key, Operator: op, Value: val})
			}
			continue
		}

		val, err := FromAny(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidFilter, key, err)
		}
		fs.Filters = append(fs.Filters, Filter{Key: key, Operator: OpEqual, Value: val})
	}
	return nil
}

func isOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// UnmarshalJSON parses the ParseFilter syntax.
func (fs *FilterSet) UnmarshalJSON(data []byte) error {
	var expr map[string]any
	if err := decodeJSON(data, &expr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	parsed, err := ParseFilter(expr)
	if err != nil {
		return err
	}
	if parsed == nil {
		*fs = FilterSet{}
		return nil
	}
	*fs = *parsed
	return nil
}

// MarshalJSON renders the set in the ParseFilter syntax using "$and".
func (fs FilterSet) MarshalJSON() ([]byte, error) {
	clauses := make([]map[string]any, 0, len(fs.Filters))
	for _, f := range fs.Filters {
		clauses = append(clauses, map[string]any{
			f.Key: map[string]any{"$" + string(f.Operator): f.Value},
		})
	}
	return json.Marshal(map[string]any{"$and": clauses})
}
