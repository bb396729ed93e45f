package flatvec

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/metadata"
	"github.com/hupe1980/flatvec/wal"
)

// Store is an in-memory collection of records backed by a write-ahead log.
//
// Mutations are appended to the log before they touch memory, so the log is
// always the source of truth. Store is safe for concurrent use: writers are
// serialized, readers run in parallel.
type Store struct {
	mu     sync.RWMutex
	opts   options
	logger *Logger

	path   string
	log    *wal.WAL
	dim    int
	metric distance.Metric
	dist   distance.Func

	// records is indexed by slot; freed slots are nil and reused.
	records []*Record
	free    []uint32
	byID    map[int64]uint32
	index   *metadata.Index

	closed bool
}

// Open opens the store whose log lives at path and replays it.
//
// With the Create option a missing log is created; without it Open fails with
// ErrStoreNotFound. Replay stops at the first torn or invalid entry, which is
// truncated away with a logged warning.
func Open(ctx context.Context, path string, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)
	logger := opts.logger.WithStore(path)

	if c := opts.create; c != nil {
		if c.dimension <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, c.dimension)
		}
		if !c.metric.Valid() {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, distance.ErrUnknownMetric)
		}
	}

	_, err := opts.fs.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if opts.create == nil {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, path)
		}
		log, err := wal.Create(path, opts.create.dimension, opts.create.metric, opts.walOptions)
		if err != nil {
			return nil, translateError(err)
		}
		logger.InfoContext(ctx, "store created",
			"dimension", opts.create.dimension,
			"metric", opts.create.metric.String(),
		)
		s, err := newStore(path, log, opts, logger)
		if err != nil {
			_ = log.Close()
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorageIO, path, err)
	}

	log, err := wal.Open(path, opts.walOptions)
	if err != nil {
		return nil, translateError(err)
	}
	hdr := log.Header()
	if c := opts.create; c != nil && (c.dimension != hdr.Dimension || c.metric != hdr.Metric) {
		_ = log.Close()
		return nil, fmt.Errorf("%w: store has dimension %d and metric %s, requested %d and %s",
			ErrInvalidArgument, hdr.Dimension, hdr.Metric, c.dimension, c.metric)
	}

	s, err := newStore(path, log, opts, logger)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	n, err := s.recover(ctx)
	logger.LogRecovery(ctx, n, log.LastSeq(), err)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return s, nil
}

func newStore(path string, log *wal.WAL, opts options, logger *Logger) (*Store, error) {
	hdr := log.Header()
	dist, err := distance.Provider(hdr.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return &Store{
		opts:   opts,
		logger: logger,
		path:   path,
		log:    log,
		dim:    hdr.Dimension,
		metric: hdr.Metric,
		dist:   dist,
		byID:   make(map[int64]uint32),
		index:  metadata.NewIndex(),
	}, nil
}

func (s *Store) recover(ctx context.Context) (int, error) {
	n := 0
	for e, err := range s.log.Replay() {
		if err != nil {
			return n, translateError(err)
		}
		if n%256 == 0 {
			if err := cancelled(ctx); err != nil {
				return n, err
			}
		}
		switch e.Op {
		case wal.OpInsert:
			s.upsertLocked(recordFromEntry(e))
		case wal.OpDelete:
			s.removeLocked(e.ID)
		}
		n++
	}
	return n, nil
}

// Path returns the location of the store's log.
func (s *Store) Path() string { return s.path }

// Dimension returns the fixed vector dimension.
func (s *Store) Dimension() int { return s.dim }

// Metric returns the distance metric used by Search.
func (s *Store) Metric() distance.Metric { return s.metric }

// Seq returns the sequence number of the last logged mutation.
func (s *Store) Seq() uint64 { return s.log.LastSeq() }

// Count returns the number of live records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Insert stores rec and returns the sequence number of its log entry.
//
// If a record with the same id exists it is replaced atomically. The vector
// must have exactly Dimension() components; validation happens before
// anything is logged. The store keeps its own copy of rec.
func (s *Store) Insert(ctx context.Context, rec Record) (seq uint64, err error) {
	start := time.Now()
	defer func() {
		s.opts.metricsCollector.RecordInsert(time.Since(start), err)
		s.logger.LogInsert(ctx, rec.ID, seq, err)
	}()

	if err := checkVector(rec.Vector, s.dim); err != nil {
		return 0, err
	}
	if err := cancelled(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(rec)
}

func (s *Store) insertLocked(rec Record) (uint64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	owned := rec.Clone()
	seq, err := s.log.Append(owned.entry())
	if err != nil {
		return 0, translateError(err)
	}
	s.upsertLocked(&owned)
	return seq, nil
}

// BatchInsert validates every record, then inserts them in order.
//
// Nothing is logged if any record is invalid: vectors, metadata and encoded
// size are all checked up front. On a storage failure or
// cancellation it stops and returns the sequence numbers committed so far
// together with the error.
func (s *Store) BatchInsert(ctx context.Context, recs []Record) (seqs []uint64, err error) {
	start := time.Now()
	defer func() {
		s.opts.metricsCollector.RecordBatchInsert(len(recs), len(recs)-len(seqs), time.Since(start))
		s.logger.LogBatchInsert(ctx, len(recs), len(seqs), err)
	}()

	for i := range recs {
		err := checkVector(recs[i].Vector, s.dim)
		if err == nil {
			err = translateError(s.log.Validate(recs[i].entry()))
		}
		if err != nil {
			return nil, fmt.Errorf("record %d (id %d): %w", i, recs[i].ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seqs = make([]uint64, 0, len(recs))
	for i := range recs {
		if err := cancelled(ctx); err != nil {
			return seqs, err
		}
		seq, err := s.insertLocked(recs[i])
		if err != nil {
			return seqs, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// Delete removes the record with id. It reports false, and logs nothing,
// when no such record exists.
func (s *Store) Delete(ctx context.Context, id int64) (found bool, err error) {
	start := time.Now()
	defer func() {
		s.opts.metricsCollector.RecordDelete(time.Since(start), err)
		s.logger.LogDelete(ctx, id, found, err)
	}()

	if err := cancelled(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	if _, err := s.log.Append(&wal.Entry{Op: wal.OpDelete, ID: id}); err != nil {
		return false, translateError(err)
	}
	s.removeLocked(id)
	return true, nil
}

// Get returns a deep copy of the record with id.
func (s *Store) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[slot].Clone(), true
}

// GetMany returns deep copies of the records that exist among ids, in
// argument order.
func (s *Store) GetMany(ids []int64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if slot, ok := s.byID[id]; ok {
			out = append(out, s.records[slot].Clone())
		}
	}
	return out
}

// Compact rewrites the log so it only holds the live records.
//
// Sequence numbers stay monotonic: the next mutation after Compact gets the
// same number it would have received without it. Writers are blocked for the
// duration.
func (s *Store) Compact(ctx context.Context) (err error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.log.Size()
	defer func() {
		s.opts.metricsCollector.RecordCompaction(time.Since(start), err)
		s.logger.LogCompaction(ctx, len(s.byID), before, s.log.Size(), err)
	}()

	if s.closed {
		return ErrClosed
	}
	return translateError(s.log.Compact(ctx, s.liveEntriesLocked()))
}

// liveEntriesLocked yields an insert entry per live record in id order.
func (s *Store) liveEntriesLocked() iter.Seq[*wal.Entry] {
	ids := make([]int64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return func(yield func(*wal.Entry) bool) {
		for _, id := range ids {
			if !yield(s.records[s.byID[id]].entry()) {
				return
			}
		}
	}
}

// Close releases the log. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return translateError(s.log.Close())
}

// Drop closes the store, discards its records and deletes its log.
func (s *Store) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		if err := s.log.Close(); err != nil {
			s.logger.Warn("close before drop failed", "error", err)
		}
	}
	s.records = nil
	s.free = nil
	s.byID = make(map[int64]uint32)
	s.index.Reset()

	if err := s.opts.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrStorageIO, s.path, err)
	}
	s.logger.Info("store dropped")
	return nil
}

func (s *Store) upsertLocked(rec *Record) {
	if slot, ok := s.byID[rec.ID]; ok {
		s.index.Remove(slot, s.records[slot].Metadata)
		s.records[slot] = rec
		s.index.Add(slot, rec.Metadata)
		return
	}

	var slot uint32
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.records[slot] = rec
	} else {
		slot = uint32(len(s.records)) //nolint:gosec // slot count bounded by memory
		s.records = append(s.records, rec)
	}
	s.byID[rec.ID] = slot
	s.index.Add(slot, rec.Metadata)
}

func (s *Store) removeLocked(id int64) {
	slot, ok := s.byID[id]
	if !ok {
		return
	}
	s.index.Remove(slot, s.records[slot].Metadata)
	s.records[slot] = nil
	s.free = append(s.free, slot)
	delete(s.byID, id)
}
