package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		"category": String("AI"),
		"year":     Int(2024),
		"score":    Float(0.75),
		"draft":    Bool(false),
		"tags":     Array([]Value{String("rag"), Int(7)}),
		"author": Map(map[string]Value{
			"name":  String("li"),
			"langs": Array([]Value{String("zh"), String("en")}),
		}),
	}
}

func TestDocumentClone(t *testing.T) {
	doc := sampleDocument()
	clone := doc.Clone()
	require.True(t, doc.Equal(clone))

	clone["tags"].A[0] = String("mutated")
	clone["author"].M["name"] = String("mutated")

	assert.Equal(t, "rag", doc["tags"].A[0].StringValue())
	assert.Equal(t, "li", doc["author"].M["name"].StringValue())

	var nilDoc Document
	assert.Nil(t, nilDoc.Clone())
}

func TestDocumentLookup(t *testing.T) {
	doc := sampleDocument()

	v, ok := doc.Lookup("author.name")
	require.True(t, ok)
	assert.Equal(t, "li", v.StringValue())

	_, ok = doc.Lookup("author.name.first")
	assert.False(t, ok)

	_, ok = doc.Lookup("missing")
	assert.False(t, ok)
}

func TestValueKey(t *testing.T) {
	assert.Equal(t, Int(3).Key(), Float(3).Key())
	assert.NotEqual(t, Int(3).Key(), Float(3.5).Key())
	assert.NotEqual(t, String("1").Key(), Int(1).Key())
	assert.Equal(t,
		Map(map[string]Value{"a": Int(1), "b": Int(2)}).Key(),
		Map(map[string]Value{"b": Int(2), "a": Int(1)}).Key(),
	)
}

func TestBinaryRoundTrip(t *testing.T) {
	doc := sampleDocument()

	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.True(t, doc.Equal(decoded))

	again, err := decoded.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")
}

func TestBinaryEmpty(t *testing.T) {
	var doc Document
	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Nil(t, decoded)
}

func TestBinaryCorrupt(t *testing.T) {
	data, err := sampleDocument().MarshalBinary()
	require.NoError(t, err)

	for _, cut := range []int{0, 1, len(data) / 2, len(data) - 1} {
		var d Document
		assert.ErrorIs(t, d.UnmarshalBinary(data[:cut]), ErrCorrupt, "cut=%d", cut)
	}

	var d Document
	assert.ErrorIs(t, d.UnmarshalBinary(append(data, 0x00)), ErrCorrupt)
}

func TestFromAny(t *testing.T) {
	doc, err := DocumentFromAny(map[string]any{
		"s":   "x",
		"i":   42,
		"f":   1.5,
		"b":   true,
		"arr": []any{"a", 1},
		"obj": map[string]any{"k": "v"},
		"num": json.Number("7"),
	})
	require.NoError(t, err)

	assert.Equal(t, KindString, doc["s"].Kind)
	assert.Equal(t, KindInt, doc["i"].Kind)
	assert.Equal(t, KindFloat, doc["f"].Kind)
	assert.Equal(t, KindBool, doc["b"].Kind)
	assert.Equal(t, KindArray, doc["arr"].Kind)
	assert.Equal(t, KindMap, doc["obj"].Kind)
	assert.Equal(t, KindInt, doc["num"].Kind)

	_, err = DocumentFromAny(map[string]any{"n": nil})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = FromAny(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = FromAny(uint64(1 << 63))
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	nilDoc, err := DocumentFromAny(nil)
	require.NoError(t, err)
	assert.Nil(t, nilDoc)
}

func TestJSON(t *testing.T) {
	doc := sampleDocument()

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, doc.Equal(decoded))

	assert.Equal(t, KindInt, decoded["year"].Kind)
	assert.Equal(t, KindFloat, decoded["score"].Kind)

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`null`), &v))
}
