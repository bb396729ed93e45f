package metadata

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Index accelerates equality and membership predicates with roaring
// posting lists keyed by field path and value.
//
// Slots are small dense integers owned by the caller (the record store uses
// its slot numbers). Nested mappings are indexed under their dotted paths
// and list fields under each element, so for every predicate the postings
// are a superset of the true matches; callers still evaluate the full
// FilterSet on each candidate.
//
// Index is not safe for concurrent mutation; the store guards it.
type Index struct {
	// path -> value key -> slots
	fields map[string]map[string]*roaring.Bitmap
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{fields: make(map[string]map[string]*roaring.Bitmap)}
}

// Add indexes doc under slot.
func (ix *Index) Add(slot uint32, doc Document) {
	ix.walk("", doc, 0, func(path, key string) {
		vm, ok := ix.fields[path]
		if !ok {
			vm = make(map[string]*roaring.Bitmap)
			ix.fields[path] = vm
		}
		bm, ok := vm[key]
		if !ok {
			bm = roaring.New()
			vm[key] = bm
		}
		bm.Add(slot)
	})
}

// Remove drops slot from every posting list doc contributed to.
func (ix *Index) Remove(slot uint32, doc Document) {
	ix.walk("", doc, 0, func(path, key string) {
		vm, ok := ix.fields[path]
		if !ok {
			return
		}
		bm, ok := vm[key]
		if !ok {
			return
		}
		bm.Remove(slot)
		if bm.IsEmpty() {
			delete(vm, key)
			if len(vm) == 0 {
				delete(ix.fields, path)
			}
		}
	})
}

// Reset removes all postings.
func (ix *Index) Reset() {
	ix.fields = make(map[string]map[string]*roaring.Bitmap)
}

// Fields returns the number of indexed paths.
func (ix *Index) Fields() int {
	return len(ix.fields)
}

func (ix *Index) walk(prefix string, m map[string]Value, depth int, emit func(path, key string)) {
	if depth > maxDepth {
		return
	}
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch v.Kind {
		case KindArray:
			emit(path, v.Key())
			seen := make(map[string]struct{}, len(v.A))
			for _, item := range v.A {
				if item.Kind == KindArray {
					continue
				}
				key := item.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				emit(path, key)
			}
		case KindMap:
			emit(path, v.Key())
			ix.walk(path, v.M, depth+1, emit)
		default:
			emit(path, v.Key())
		}
	}
}

// Candidates intersects the postings of every indexable predicate in fs.
//
// ok is false when fs has no indexable predicate; the caller must then scan
// all records. A non-nil result may be empty, meaning nothing can match.
func (ix *Index) Candidates(fs *FilterSet) (result *roaring.Bitmap, ok bool) {
	if fs == nil {
		return nil, false
	}
	for i := range fs.Filters {
		f := &fs.Filters[i]
		var bm *roaring.Bitmap
		switch f.Operator {
		case OpEqual:
			bm = ix.lookup(f.Key, f.Value)
		case OpIn:
			bm = roaring.New()
			for _, item := range f.Value.A {
				if p := ix.lookup(f.Key, item); p != nil {
					bm.Or(p)
				}
			}
		default:
			continue
		}
		if bm == nil {
			return roaring.New(), true
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
		if result.IsEmpty() {
			return result, true
		}
	}
	return result, result != nil
}

func (ix *Index) lookup(path string, v Value) *roaring.Bitmap {
	vm, ok := ix.fields[path]
	if !ok {
		return nil
	}
	return vm[v.Key()]
}
