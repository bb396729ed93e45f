package flatvec

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/flatvec/internal/topk"
	"github.com/hupe1980/flatvec/metadata"
)

// cancelCheckInterval is the number of candidates scored between context checks.
const cancelCheckInterval = 256

// Result is a search hit. Lower scores are closer to the query.
type Result struct {
	Record
	Score float64
}

type searchOptions struct {
	filter         *metadata.FilterSet
	withoutVectors bool
}

// SearchOption configures a single Search call.
type SearchOption func(*searchOptions)

// WithFilter restricts the candidates to records whose metadata satisfies fs.
func WithFilter(fs *metadata.FilterSet) SearchOption {
	return func(o *searchOptions) {
		o.filter = fs
	}
}

// WithoutVectors omits vectors from the returned records.
func WithoutVectors() SearchOption {
	return func(o *searchOptions) {
		o.withoutVectors = true
	}
}

// Search returns the topK records closest to query under the store's
// metric, ordered by ascending score and then ascending id. It is an exact
// scan over all candidates; fewer than topK results are returned when fewer
// records qualify.
//
// Equality and membership predicates of the filter narrow the candidates
// through the metadata index; every candidate is then checked against the
// full filter. The context is polled every 256 candidates.
func (s *Store) Search(ctx context.Context, query []float64, topK int, optFns ...SearchOption) (results []Result, err error) {
	start := time.Now()
	scanned := 0
	defer func() {
		s.opts.metricsCollector.RecordSearch(topK, scanned, time.Since(start), err)
		s.logger.LogSearch(ctx, topK, scanned, len(results), err)
	}()

	var opts searchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := checkVector(query, s.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}
	if err := opts.filter.Validate(); err != nil {
		return nil, translateError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	heap := topk.New(topK)
	score := func(slot uint32) error {
		if scanned%cancelCheckInterval == 0 {
			if err := cancelled(ctx); err != nil {
				return err
			}
		}
		scanned++
		rec := s.records[slot]
		if rec == nil || !opts.filter.Matches(rec.Metadata) {
			return nil
		}
		heap.Push(topk.Item{ID: rec.ID, Score: s.dist(query, rec.Vector), Slot: slot})
		return nil
	}

	if candidates, ok := s.index.Candidates(opts.filter); ok {
		it := candidates.Iterator()
		for it.HasNext() {
			if err := score(it.Next()); err != nil {
				return nil, err
			}
		}
	} else {
		for slot := range s.records {
			if err := score(uint32(slot)); err != nil { //nolint:gosec // slot count bounded by memory
				return nil, err
			}
		}
	}

	items := heap.Sorted()
	results = make([]Result, len(items))
	for i, it := range items {
		rec := s.records[it.Slot]
		if opts.withoutVectors {
			r := *rec
			r.Vector = nil
			results[i] = Result{Record: r.Clone(), Score: it.Score}
			continue
		}
		results[i] = Result{Record: rec.Clone(), Score: it.Score}
	}
	return results, nil
}
