package wal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"github.com/hupe1980/flatvec/distance"
	"golang.org/x/time/rate"
)

// Compact rewrites the log so it holds only entries.
//
// The entries are renumbered so that the last one keeps the current LastSeq;
// the new header records the base sequence. The new log is written to a
// temporary file, fsynced and renamed over the old one, so a crash leaves
// either the old or the new log. The caller must ensure no appends race with
// Compact for its state to stay consistent with the log.
func (w *WAL) Compact(ctx context.Context, entries iter.Seq[*Entry]) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writableLocked(); err != nil {
		return err
	}

	live := slices.Collect(entries)
	if uint64(len(live)) > w.lastSeq {
		return fmt.Errorf("%w: %d live entries exceed last sequence %d", ErrInvalidEntry, len(live), w.lastSeq)
	}

	tmp := w.path + ".compact"
	file, err := w.opts.FS.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrStorageIO, tmp, err)
	}
	unlock, err := lockFile(file)
	if err != nil {
		_ = file.Close()
		_ = w.opts.FS.Remove(tmp)
		return err
	}
	abort := func(err error) error {
		_ = unlock()
		_ = file.Close()
		_ = w.opts.FS.Remove(tmp)
		return err
	}

	hdr := w.header
	hdr.BaseSeq = w.lastSeq - uint64(len(live))

	var out io.Writer = file
	if w.opts.CompactionLimiter != nil {
		out = &limitedWriter{ctx: ctx, w: file, limiter: w.opts.CompactionLimiter}
	}
	n, err := writeLog(ctx, out, hdr, live, w.opts.Compression, w.opts.MaxEntrySize)
	if err != nil {
		return abort(err)
	}
	if err := file.Sync(); err != nil {
		return abort(fmt.Errorf("%w: sync %s: %w", ErrStorageIO, tmp, err))
	}
	if err := w.opts.FS.Rename(tmp, w.path); err != nil {
		return abort(fmt.Errorf("%w: rename %s: %w", ErrStorageIO, tmp, err))
	}
	syncDir(w.opts, filepath.Dir(w.path))

	_ = w.unlock()
	_ = w.file.Close()

	w.file = file
	w.unlock = unlock
	w.header = hdr
	w.size = n
	return nil
}

// WriteSnapshot writes a complete log holding entries to dst. Entries are
// renumbered so the last one carries lastSeq. The output can be opened with
// Open or read with Scan.
func WriteSnapshot(ctx context.Context, dst io.Writer, dim int, metric distance.Metric, lastSeq uint64, entries []*Entry, codec Compression) (int64, error) {
	if uint64(len(entries)) > lastSeq {
		return 0, fmt.Errorf("%w: %d entries exceed last sequence %d", ErrInvalidEntry, len(entries), lastSeq)
	}
	hdr := Header{
		Version:   formatVersion,
		Dimension: dim,
		Metric:    metric,
		BaseSeq:   lastSeq - uint64(len(entries)),
	}
	return writeLog(ctx, dst, hdr, entries, codec, DefaultOptions.MaxEntrySize)
}

func writeLog(ctx context.Context, dst io.Writer, hdr Header, entries []*Entry, codec Compression, maxSize int) (int64, error) {
	bw := bufio.NewWriterSize(dst, 64<<10)
	if _, err := bw.Write(hdr.marshal()); err != nil {
		return 0, fmt.Errorf("%w: write header: %w", ErrStorageIO, err)
	}
	written := int64(headerSize)

	var buf []byte
	for i, e := range entries {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		var err error
		buf, err = appendEntry(buf[:0], hdr.BaseSeq+uint64(i)+1, e, hdr.Dimension, codec, maxSize)
		if err != nil {
			return 0, err
		}
		if _, err := bw.Write(buf); err != nil {
			return 0, fmt.Errorf("%w: write entry: %w", ErrStorageIO, err)
		}
		written += int64(len(buf))
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flush: %w", ErrStorageIO, err)
	}
	return written, nil
}

// Scan reads a complete log from r, such as a snapshot fetched from a blob
// store. Unlike Replay it is strict: any invalid entry is yielded as an
// error wrapping ErrCorruptEntry.
func Scan(r io.Reader) (Header, iter.Seq2[*Entry, error], error) {
	hdr, err := readHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	seq := func(yield func(*Entry, error) bool) {
		dec := newDecoder(r, hdr, DefaultOptions.MaxEntrySize)
		for {
			e, err := dec.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				if !errors.Is(err, ErrCorruptEntry) {
					err = fmt.Errorf("%w: %w", ErrStorageIO, err)
				}
				yield(nil, fmt.Errorf("offset %d: %w", headerSize+dec.offset, err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
	return hdr, seq, nil
}

// limitedWriter throttles writes to the limiter's byte rate.
type limitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	written := 0
	burst := max(lw.limiter.Burst(), 1)
	for len(p) > 0 {
		chunk := min(len(p), burst)
		if err := lw.limiter.WaitN(lw.ctx, chunk); err != nil {
			return written, err
		}
		n, err := lw.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

func syncDir(opts Options, dir string) {
	d, err := opts.FS.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		opts.Logger.Debug("wal: directory sync failed", "dir", dir, "error", err)
	}
	_ = d.Close()
}
