package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		metadata Document
		want     bool
	}{
		{
			name:     "OpEqual string match",
			filter:   Filter{Key: "category", Operator: OpEqual, Value: String("AI")},
			metadata: Document{"category": String("AI")},
			want:     true,
		},
		{
			name:     "OpEqual string no match",
			filter:   Filter{Key: "category", Operator: OpEqual, Value: String("AI")},
			metadata: Document{"category": String("sports")},
			want:     false,
		},
		{
			name:     "OpEqual absent field",
			filter:   Filter{Key: "category", Operator: OpEqual, Value: String("AI")},
			metadata: Document{"title": String("x")},
			want:     false,
		},
		{
			name:     "OpEqual nil document",
			filter:   Filter{Key: "category", Operator: OpEqual, Value: String("AI")},
			metadata: nil,
			want:     false,
		},
		{
			name:     "OpEqual int against float",
			filter:   Filter{Key: "count", Operator: OpEqual, Value: Float(10)},
			metadata: Document{"count": Int(10)},
			want:     true,
		},
		{
			name:     "OpEqual array contains",
			filter:   Filter{Key: "tags", Operator: OpEqual, Value: String("rag")},
			metadata: Document{"tags": Array([]Value{String("llm"), String("rag")})},
			want:     true,
		},
		{
			name:     "OpEqual whole array",
			filter:   Filter{Key: "tags", Operator: OpEqual, Value: Array([]Value{String("llm")})},
			metadata: Document{"tags": Array([]Value{String("llm")})},
			want:     true,
		},
		{
			name:     "OpEqual kind mismatch",
			filter:   Filter{Key: "flag", Operator: OpEqual, Value: String("true")},
			metadata: Document{"flag": Bool(true)},
			want:     false,
		},
		{
			name:     "OpGreaterThan",
			filter:   Filter{Key: "score", Operator: OpGreaterThan, Value: Int(50)},
			metadata: Document{"score": Int(75)},
			want:     true,
		},
		{
			name:     "OpGreaterThan false",
			filter:   Filter{Key: "score", Operator: OpGreaterThan, Value: Int(50)},
			metadata: Document{"score": Int(25)},
			want:     false,
		},
		{
			name:     "OpGreaterEqual equal mixed kinds",
			filter:   Filter{Key: "age", Operator: OpGreaterEqual, Value: Float(18)},
			metadata: Document{"age": Int(18)},
			want:     true,
		},
		{
			name:     "OpLessThan float",
			filter:   Filter{Key: "price", Operator: OpLessThan, Value: Float(9.99)},
			metadata: Document{"price": Float(4.5)},
			want:     true,
		},
		{
			name:     "OpLessEqual non-number field",
			filter:   Filter{Key: "price", Operator: OpLessEqual, Value: Int(10)},
			metadata: Document{"price": String("cheap")},
			want:     false,
		},
		{
			name:     "OpIn match",
			filter:   Filter{Key: "lang", Operator: OpIn, Value: Array([]Value{String("go"), String("rust")})},
			metadata: Document{"lang": String("go")},
			want:     true,
		},
		{
			name:     "OpIn no match",
			filter:   Filter{Key: "lang", Operator: OpIn, Value: Array([]Value{String("go"), String("rust")})},
			metadata: Document{"lang": String("python")},
			want:     false,
		},
		{
			name:     "OpIn list field overlap",
			filter:   Filter{Key: "tags", Operator: OpIn, Value: Array([]Value{String("a"), String("b")})},
			metadata: Document{"tags": Array([]Value{String("c"), String("b")})},
			want:     true,
		},
		{
			name:     "Nested path",
			filter:   Filter{Key: "author.name", Operator: OpEqual, Value: String("li")},
			metadata: Document{"author": Map(map[string]Value{"name": String("li")})},
			want:     true,
		},
		{
			name:     "Nested path absent",
			filter:   Filter{Key: "author.email", Operator: OpEqual, Value: String("x")},
			metadata: Document{"author": Map(map[string]Value{"name": String("li")})},
			want:     false,
		},
		{
			name:     "Literal dotted key wins",
			filter:   Filter{Key: "a.b", Operator: OpEqual, Value: Int(1)},
			metadata: Document{"a.b": Int(1), "a": Map(map[string]Value{"b": Int(2)})},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.metadata))
		})
	}
}

func TestFilterSetMatches(t *testing.T) {
	doc := Document{
		"category": String("AI"),
		"year":     Int(2023),
	}

	var empty *FilterSet
	assert.True(t, empty.Matches(doc))
	assert.True(t, NewFilterSet().Matches(nil))

	fs := NewFilterSet(
		Filter{Key: "category", Operator: OpEqual, Value: String("AI")},
		Filter{Key: "year", Operator: OpGreaterEqual, Value: Int(2020)},
	)
	assert.True(t, fs.Matches(doc))
	assert.Equal(t, 2, fs.Len())

	narrower := fs.And(Filter{Key: "year", Operator: OpLessThan, Value: Int(2023)})
	assert.False(t, narrower.Matches(doc))
	assert.Equal(t, 2, fs.Len(), "And must not modify the receiver")
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		ok     bool
	}{
		{"valid eq", Filter{Key: "a", Operator: OpEqual, Value: String("x")}, true},
		{"empty key", Filter{Operator: OpEqual, Value: String("x")}, false},
		{"missing operand", Filter{Key: "a", Operator: OpEqual}, false},
		{"gt needs number", Filter{Key: "a", Operator: OpGreaterThan, Value: String("x")}, false},
		{"in needs list", Filter{Key: "a", Operator: OpIn, Value: Int(1)}, false},
		{"unknown operator", Filter{Key: "a", Operator: "ne", Value: Int(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidFilter)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	doc := Document{
		"category": String("AI"),
		"year":     Int(2022),
		"tag":      String("rag"),
	}

	t.Run("Equality", func(t *testing.T) {
		fs, err := ParseFilter(map[string]any{"category": "AI"})
		require.NoError(t, err)
		require.Equal(t, 1, fs.Len())
		assert.Equal(t, OpEqual, fs.Filters[0].Operator)
		assert.True(t, fs.Matches(doc))
		assert.False(t, fs.Matches(Document{"title": String("no category")}))
	})

	t.Run("Range", func(t *testing.T) {
		fs, err := ParseFilter(map[string]any{"year": map[string]any{"$gte": 2020, "$lt": 2023}})
		require.NoError(t, err)
		assert.Equal(t, 2, fs.Len())
		assert.True(t, fs.Matches(doc))
	})

	t.Run("InAndConjunction", func(t *testing.T) {
		fs, err := ParseFilter(map[string]any{
			"$and": []any{
				map[string]any{"tag": map[string]any{"$in": []any{"rag", "llm"}}},
				map[string]any{"category": map[string]any{"$eq": "AI"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, fs.Len())
		assert.True(t, fs.Matches(doc))
	})

	t.Run("Empty", func(t *testing.T) {
		fs, err := ParseFilter(nil)
		require.NoError(t, err)
		assert.Nil(t, fs)
		assert.True(t, fs.Matches(doc))
	})

	t.Run("Rejected", func(t *testing.T) {
		for _, expr := range []map[string]any{
			{"$or": []any{map[string]any{"a": 1}}},
			{"a": map[string]any{"$ne": 1}},
			{"a": map[string]any{"$in": 1}},
			{"a": map[string]any{"$gt": "x"}},
			{"a": nil},
			{"$and": "nope"},
		} {
			_, err := ParseFilter(expr)
			assert.ErrorIs(t, err, ErrInvalidFilter, "%v", expr)
		}
	})
}

func TestFilterSetJSON(t *testing.T) {
	var fs FilterSet
	require.NoError(t, fs.UnmarshalJSON([]byte(`{"category":"AI","year":{"$gte":2020}}`)))
	require.Equal(t, 2, fs.Len())
	assert.Equal(t, KindInt, fs.Filters[1].Value.Kind)

	data, err := fs.MarshalJSON()
	require.NoError(t, err)

	var back FilterSet
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, len(fs.Filters), len(back.Filters))
	for i := range fs.Filters {
		assert.Equal(t, fs.Filters[i].Key, back.Filters[i].Key)
		assert.Equal(t, fs.Filters[i].Operator, back.Filters[i].Operator)
		assert.True(t, fs.Filters[i].Value.Equal(back.Filters[i].Value))
	}

	assert.ErrorIs(t, fs.UnmarshalJSON([]byte(`{"$or":[]}`)), ErrInvalidFilter)
}
