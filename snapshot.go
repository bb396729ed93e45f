package flatvec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/hupe1980/flatvec/wal"
)

// Snapshot writes a compacted copy of the store's log to w. The output is a
// regular log file: Restore or Open accept it as is. Writers are blocked
// while the snapshot is taken.
func (s *Store) Snapshot(ctx context.Context, w io.Writer) (n int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defer func() {
		s.logger.LogSnapshot(ctx, len(s.byID), n, err)
	}()

	if s.closed {
		return 0, ErrClosed
	}
	entries := slices.Collect(s.liveEntriesLocked())
	n, err = wal.WriteSnapshot(ctx, w, s.dim, s.metric, s.log.LastSeq(), entries, s.opts.compression)
	return n, translateError(err)
}

// Restore materializes the snapshot read from r as a new store at path and
// opens it. The snapshot is verified entry by entry before it becomes
// visible; path must not exist.
func Restore(ctx context.Context, path string, r io.Reader, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	if _, err := opts.fs.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorageIO, path, err)
	}

	tmp := path + ".restore"
	f, err := opts.fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorageIO, tmp, err)
	}
	abort := func(err error) (*Store, error) {
		_ = f.Close()
		_ = opts.fs.Remove(tmp)
		return nil, err
	}

	tee := io.TeeReader(r, f)
	hdr, entries, err := wal.Scan(tee)
	if err != nil {
		return abort(translateError(err))
	}
	if c := opts.create; c != nil && (c.dimension != hdr.Dimension || c.metric != hdr.Metric) {
		return abort(fmt.Errorf("%w: snapshot has dimension %d and metric %s",
			ErrInvalidArgument, hdr.Dimension, hdr.Metric))
	}
	n := 0
	for _, err := range entries {
		if err != nil {
			return abort(translateError(err))
		}
		if n%256 == 0 {
			if err := cancelled(ctx); err != nil {
				return abort(err)
			}
		}
		n++
	}
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return abort(fmt.Errorf("%w: read snapshot: %w", ErrStorageIO, err))
	}
	if err := f.Sync(); err != nil {
		return abort(fmt.Errorf("%w: sync %s: %w", ErrStorageIO, tmp, err))
	}
	if err := f.Close(); err != nil {
		_ = opts.fs.Remove(tmp)
		return nil, fmt.Errorf("%w: close %s: %w", ErrStorageIO, tmp, err)
	}
	if err := opts.fs.Rename(tmp, path); err != nil {
		_ = opts.fs.Remove(tmp)
		return nil, fmt.Errorf("%w: rename %s: %w", ErrStorageIO, tmp, err)
	}

	opts.logger.InfoContext(ctx, "store restored", "store", path, "entries", n)
	return Open(ctx, path, optFns...)
}
