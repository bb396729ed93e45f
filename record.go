package flatvec

import (
	"fmt"
	"math"

	"github.com/hupe1980/flatvec/metadata"
	"github.com/hupe1980/flatvec/wal"
)

// Record is a stored document: caller-assigned id, source text, embedding
// and optional metadata.
type Record struct {
	ID       int64
	Text     string
	Vector   []float64
	Metadata metadata.Document
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Vector != nil {
		out.Vector = append([]float64(nil), r.Vector...)
	}
	out.Metadata = r.Metadata.Clone()
	return out
}

func (r *Record) entry() *wal.Entry {
	return &wal.Entry{
		Op:       wal.OpInsert,
		ID:       r.ID,
		Text:     r.Text,
		Vector:   r.Vector,
		Metadata: r.Metadata,
	}
}

func recordFromEntry(e *wal.Entry) *Record {
	return &Record{
		ID:       e.ID,
		Text:     e.Text,
		Vector:   e.Vector,
		Metadata: e.Metadata,
	}
}

func checkVector(v []float64, dim int) error {
	if len(v) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(v)}
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidArgument, i)
		}
	}
	return nil
}
