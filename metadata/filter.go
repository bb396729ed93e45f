package metadata

import (
	"errors"
	"fmt"
)

// ErrInvalidFilter is returned for malformed filters (unknown operator,
// non-list operand for "in", empty key). It is raised when a filter is built
// or parsed, never while evaluating one.
var ErrInvalidFilter = errors.New("invalid filter")

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual matches equal values. A list-valued field also matches when
	// it contains the operand.
	OpEqual Operator = "eq"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
	// OpIn matches when the field equals one of the listed values.
	OpIn Operator = "in"
)

// Filter represents a single metadata filter condition.
type Filter struct {
	Key      string
	Operator Operator
	Value    Value
}

// Validate checks that the filter is well-formed.
func (f *Filter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidFilter)
	}
	if !f.Value.IsValid() {
		return fmt.Errorf("%w: %s: missing operand", ErrInvalidFilter, f.Key)
	}
	switch f.Operator {
	case OpEqual:
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		if !f.Value.IsNumber() {
			return fmt.Errorf("%w: %s %s needs a number, got %s", ErrInvalidFilter, f.Key, f.Operator, f.Value.Kind)
		}
	case OpIn:
		if f.Value.Kind != KindArray {
			return fmt.Errorf("%w: %s in needs a list, got %s", ErrInvalidFilter, f.Key, f.Value.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Operator)
	}
	return nil
}

// Matches checks if the provided metadata matches this filter.
// An absent field never matches.
func (f *Filter) Matches(doc Document) bool {
	value, exists := doc.Lookup(f.Key)
	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value) || arrayContains(value, f.Value)
	case OpGreaterThan:
		c, ok := compareNumbers(value, f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := compareNumbers(value, f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := compareNumbers(value, f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := compareNumbers(value, f.Value)
		return ok && c <= 0
	case OpIn:
		return compareIn(value, f.Value)
	default:
		return false
	}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %s", f.Key, f.Operator, f.Value.Key())
}

// FilterSet represents a set of filters that must all match (AND logic).
// A nil or empty set matches every document.
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet creates a new filter set.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// And returns a new set holding the filters of fs followed by others.
func (fs *FilterSet) And(others ...Filter) *FilterSet {
	out := &FilterSet{}
	if fs != nil {
		out.Filters = append(out.Filters, fs.Filters...)
	}
	out.Filters = append(out.Filters, others...)
	return out
}

// Len returns the number of predicates.
func (fs *FilterSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.Filters)
}

// Validate checks every predicate.
func (fs *FilterSet) Validate() error {
	if fs == nil {
		return nil
	}
	for i := range fs.Filters {
		if err := fs.Filters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches checks if the provided metadata matches all filters in the set.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(doc) {
			return false
		}
	}
	return true
}

func compareEqual(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		switch {
		case a.Kind == KindInt && b.Kind == KindInt:
			return a.I64 == b.I64
		case a.Kind == KindFloat && b.Kind == KindFloat:
			return a.F64 == b.F64
		case a.Kind == KindInt:
			i, ok := integralFloat(b.F64)
			return ok && i == a.I64
		default:
			i, ok := integralFloat(a.F64)
			return ok && i == b.I64
		}
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.B == b.B
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.M) != len(b.M) {
			return false
		}
		for k, av := range a.M {
			bv, ok := b.M[k]
			if !ok || !compareEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func arrayContains(field, operand Value) bool {
	if field.Kind != KindArray || operand.Kind == KindArray {
		return false
	}
	for _, item := range field.A {
		if compareEqual(item, operand) {
			return true
		}
	}
	return false
}

// compareNumbers returns -1, 0 or 1. ok is false unless both are numbers.
func compareNumbers(a, b Value) (int, bool) {
	if !a.IsNumber() || !b.IsNumber() {
		return 0, false
	}
	if a.Kind == KindInt && b.Kind == KindInt {
		switch {
		case a.I64 < b.I64:
			return -1, true
		case a.I64 > b.I64:
			return 1, true
		default:
			return 0, true
		}
	}
	fa, _ := a.AsFloat64()
	fb, _ := b.AsFloat64()
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	case fa == fb:
		return 0, true
	default:
		return 0, false // NaN
	}
}

func compareIn(field, list Value) bool {
	if list.Kind != KindArray {
		return false
	}
	for _, item := range list.A {
		if compareEqual(field, item) || arrayContains(field, item) {
			return true
		}
	}
	return false
}
