// Package metadata provides typed record metadata and the filter evaluator.
//
// Metadata values form a closed set: integers and floats (numbers), strings,
// booleans, lists of values and nested mappings.
//
//	meta := metadata.Document{
//	    "category": metadata.String("AI"),
//	    "year":     metadata.Int(2024),
//	    "tags":     metadata.Array([]metadata.Value{metadata.String("rag")}),
//	    "author":   metadata.Map(map[string]metadata.Value{"name": metadata.String("li")}),
//	}
//
// # Filters
//
// A [FilterSet] is a conjunction of predicates. Supported operators are
// equality, numeric comparison (lt, lte, gt, gte) and set membership (in).
// There is no disjunction or negation. A predicate on a field the document
// does not have evaluates to false; evaluation never fails.
//
//	fs, err := metadata.ParseFilter(map[string]any{
//	    "category": "AI",
//	    "year":     map[string]any{"$gte": 2020},
//	})
//
// Keys containing dots address nested mappings ("author.name") when the
// document has no literal key of that name.
//
// [Index] keeps roaring-bitmap posting lists for equality lookups so the
// search engine can narrow candidates before evaluating predicates.
package metadata
