// Package wal implements the append-only write-ahead log that backs a store.
//
// A log is a single file: a fixed header carrying the vector dimension,
// distance metric and base sequence number, followed by CRC-framed entries
// with strictly increasing, gap-free sequence numbers. The log is the source
// of truth; replaying it in order rebuilds the in-memory state exactly.
//
// Appends are written in a single write and fsynced before they return
// (DurabilitySync). A failed append is rolled back by truncating the file to
// its previous end. On recovery, the first torn or invalid entry ends the
// replay and the file is truncated there.
package wal

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/internal/fs"
)

// WAL provides write-ahead logging for durability.
//
// All methods are safe for concurrent use; callers serialize mutations
// themselves when they need append order to match their own state.
type WAL struct {
	mu      sync.Mutex
	opts    Options
	path    string
	file    fs.File
	unlock  func() error
	header  Header
	size    int64 // logical end of the file
	lastSeq uint64

	replayCalled bool
	ready        bool  // end of log known; writes allowed
	err          error // sticky failure after an unrecoverable rollback
	closed       bool
	buf          []byte
}

// Create creates a new, empty log at path. It fails if the file exists.
//
// The header is written and fsynced in a temporary file that is then renamed
// into place, so a crash never leaves a log without a complete header.
func Create(path string, dim int, metric distance.Metric, optFns ...func(o *Options)) (*WAL, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidEntry, dim)
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, distance.ErrUnknownMetric)
	}
	opts := buildOptions(optFns)

	if err := checkAbsent(opts, path); err != nil {
		return nil, err
	}

	tmp := path + ".create"
	file, err := opts.FS.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorageIO, tmp, err)
	}
	unlock, err := lockFile(file)
	if err != nil {
		_ = file.Close()
		_ = opts.FS.Remove(tmp)
		return nil, err
	}
	abort := func(err error) (*WAL, error) {
		_ = unlock()
		_ = file.Close()
		_ = opts.FS.Remove(tmp)
		return nil, err
	}

	hdr := Header{Version: formatVersion, Dimension: dim, Metric: metric}
	if err := writeAndSync(file, hdr.marshal()); err != nil {
		return abort(fmt.Errorf("%w: write header: %w", ErrStorageIO, err))
	}
	// Rename replaces silently; re-check to catch a concurrent creator.
	if err := checkAbsent(opts, path); err != nil {
		return abort(err)
	}
	if err := opts.FS.Rename(tmp, path); err != nil {
		return abort(fmt.Errorf("%w: rename %s: %w", ErrStorageIO, tmp, err))
	}
	syncDir(opts, filepath.Dir(path))

	return &WAL{
		opts:   opts,
		path:   path,
		file:   file,
		unlock: unlock,
		header: hdr,
		size:   headerSize,
		ready:  true,
	}, nil
}

func checkAbsent(opts Options, path string) error {
	_, err := opts.FS.Stat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: create %s: %w", ErrStorageIO, path, os.ErrExist)
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: stat %s: %w", ErrStorageIO, path, err)
	}
	return nil
}

// Open opens an existing log. Entries must be consumed with Replay before
// the log accepts writes.
func Open(path string, optFns ...func(o *Options)) (*WAL, error) {
	opts := buildOptions(optFns)

	file, err := opts.FS.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageIO, path, err)
	}
	unlock, err := lockFile(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	hdr, err := readHeader(io.NewSectionReader(file, 0, headerSize))
	if err != nil {
		_ = unlock()
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = unlock()
		_ = file.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorageIO, path, err)
	}

	return &WAL{
		opts:    opts,
		path:    path,
		file:    file,
		unlock:  unlock,
		header:  hdr,
		size:    st.Size(),
		lastSeq: hdr.BaseSeq,
	}, nil
}

// Path returns the path of the log file.
func (w *WAL) Path() string { return w.path }

// Header returns the current log header.
func (w *WAL) Header() Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header
}

// LastSeq returns the sequence number of the last durable entry.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Size returns the size of the log file in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *WAL) writableLocked() error {
	switch {
	case w.closed:
		return ErrClosed
	case w.err != nil:
		return w.err
	case !w.ready:
		return ErrNotReplayed
	}
	return nil
}

// Append logs e with the next sequence number and returns it. With
// DurabilitySync the entry is on stable storage when Append returns.
//
// On failure nothing is logged and the sequence is not advanced. If the
// partial write cannot be rolled back, the log refuses all further writes.
func (w *WAL) Append(e *Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writableLocked(); err != nil {
		return 0, err
	}

	seq := w.lastSeq + 1
	buf, err := appendEntry(w.buf[:0], seq, e, w.header.Dimension, w.opts.Compression, w.opts.MaxEntrySize)
	if err != nil {
		return 0, err
	}
	w.buf = buf

	if err := w.writeLocked(buf); err != nil {
		return 0, err
	}
	w.lastSeq = seq
	e.Seq = seq
	return seq, nil
}

// Validate reports the error Append would return for e without writing
// anything. The log's state is not checked.
func (w *WAL) Validate(e *Entry) error {
	w.mu.Lock()
	dim, maxSize := w.header.Dimension, w.opts.MaxEntrySize
	w.mu.Unlock()

	_, err := appendEntry(nil, 1, e, dim, CompressionNone, maxSize)
	return err
}

func (w *WAL) writeLocked(buf []byte) error {
	_, err := w.file.Write(buf)
	if err == nil && w.opts.DurabilityMode == DurabilitySync {
		err = w.file.Sync()
	}
	if err == nil {
		w.size += int64(len(buf))
		return nil
	}

	if rerr := w.rollbackLocked(); rerr != nil {
		w.err = fmt.Errorf("%w: rollback after %w failed: %w", ErrStorageIO, err, rerr)
		return w.err
	}
	return fmt.Errorf("%w: append: %w", ErrStorageIO, err)
}

func (w *WAL) rollbackLocked() error {
	if err := w.file.Truncate(w.size); err != nil {
		return err
	}
	_, err := w.file.Seek(w.size, io.SeekStart)
	return err
}

// Sync flushes appended entries to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrStorageIO, err)
	}
	return nil
}

// Replay yields the logged entries in ascending sequence order. It can be
// consumed once; later calls yield ErrReplayed.
//
// The first torn, checksum-failing, oversized or out-of-sequence entry ends
// the replay: the file is truncated to the last valid entry and a warning is
// logged. If the consumer stops early, the remaining entries are still
// validated so the log is ready for appends. The WAL lock is held while
// entries are yielded; the consumer must not call back into the WAL.
func (w *WAL) Replay() iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		w.mu.Lock()
		defer w.mu.Unlock()

		if w.closed {
			yield(nil, ErrClosed)
			return
		}
		if w.replayCalled {
			yield(nil, ErrReplayed)
			return
		}
		w.replayCalled = true

		dec := newDecoder(io.NewSectionReader(w.file, headerSize, w.size-headerSize), w.header, w.opts.MaxEntrySize)
		wantMore := true
		for {
			e, err := dec.next()
			if err == nil {
				if wantMore {
					wantMore = yield(e, nil)
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if !errors.Is(err, ErrCorruptEntry) {
				err = fmt.Errorf("%w: replay: %w", ErrStorageIO, err)
				if wantMore {
					yield(nil, err)
				}
				return
			}

			end := headerSize + dec.offset
			w.opts.Logger.Warn("wal: truncating invalid tail",
				"path", w.path,
				"offset", end,
				"dropped_bytes", w.size-end,
				"last_seq", dec.lastSeq,
				"reason", err.Error(),
			)
			if terr := w.file.Truncate(end); terr != nil {
				w.err = fmt.Errorf("%w: truncate tail: %w", ErrStorageIO, terr)
				if wantMore {
					yield(nil, w.err)
				}
				return
			}
			if serr := w.file.Sync(); serr != nil {
				w.err = fmt.Errorf("%w: sync after truncate: %w", ErrStorageIO, serr)
				if wantMore {
					yield(nil, w.err)
				}
				return
			}
			w.size = end
			break
		}

		if _, err := w.file.Seek(w.size, io.SeekStart); err != nil {
			w.err = fmt.Errorf("%w: seek: %w", ErrStorageIO, err)
			if wantMore {
				yield(nil, w.err)
			}
			return
		}
		w.lastSeq = dec.lastSeq
		w.ready = true
	}
}

// Close releases the file lock and closes the log.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.err == nil && w.opts.DurabilityMode == DurabilityAsync {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("%w: sync: %w", ErrStorageIO, err))
		}
	}
	if err := w.unlock(); err != nil {
		errs = append(errs, fmt.Errorf("%w: unlock: %w", ErrStorageIO, err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrStorageIO, err))
	}
	return errors.Join(errs...)
}

func writeAndSync(f fs.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
