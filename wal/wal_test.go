package wal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/internal/fs"
	"github.com/hupe1980/flatvec/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func insert(id int64, text string, vec ...float64) *Entry {
	return &Entry{Op: OpInsert, ID: id, Text: text, Vector: vec}
}

func replayAll(t *testing.T, w *WAL) []*Entry {
	t.Helper()
	var out []*Entry
	for e, err := range w.Replay() {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func reopen(t *testing.T, path string, optFns ...func(o *Options)) (*WAL, []*Entry) {
	t.Helper()
	w, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, replayAll(t, w)
}

func TestAppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")

	w, err := Create(path, 2, distance.MetricCosine)
	require.NoError(t, err)

	meta := metadata.Document{
		"category": metadata.String("AI"),
		"year":     metadata.Int(2024),
		"tags":     metadata.Array([]metadata.Value{metadata.String("rag")}),
	}
	e1 := insert(1, "first", 0.5, -1)
	e1.Metadata = meta

	seq, err := w.Append(e1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, uint64(1), e1.Seq)

	seq, err = w.Append(insert(-7, "", 0, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	seq, err = w.Append(&Entry{Op: OpDelete, ID: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	require.NoError(t, w.Close())

	w2, entries := reopen(t, path)
	require.Len(t, entries, 3)

	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, OpInsert, entries[0].Op)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "first", entries[0].Text)
	assert.Equal(t, []float64{0.5, -1}, entries[0].Vector)
	assert.True(t, meta.Equal(entries[0].Metadata))

	assert.Equal(t, int64(-7), entries[1].ID)
	assert.Nil(t, entries[1].Metadata)

	assert.Equal(t, OpDelete, entries[2].Op)
	assert.Equal(t, int64(1), entries[2].ID)

	hdr := w2.Header()
	assert.Equal(t, 2, hdr.Dimension)
	assert.Equal(t, distance.MetricCosine, hdr.Metric)
	assert.Equal(t, uint64(3), w2.LastSeq())

	seq, err = w2.Append(insert(9, "next", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestCreateValidation(t *testing.T) {
	dir := t.TempDir()

	_, err := Create(filepath.Join(dir, "a.wal"), 0, distance.MetricDot)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = Create(filepath.Join(dir, "b.wal"), 3, distance.Metric(0))
	assert.ErrorIs(t, err, ErrInvalidEntry)

	path := filepath.Join(dir, "c.wal")
	w, err := Create(path, 3, distance.MetricDot)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = Create(path, 3, distance.MetricDot)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestCreateFailedHeaderLeavesNoLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "torn.wal")

	fsys := fs.NewFaultyFS(nil)
	fsys.AddRule(".create", fs.Fault{FailAfterBytes: 10, ShortWrite: true})

	_, err := Create(path, 3, distance.MetricDot, func(o *Options) { o.FS = fsys })
	require.ErrorIs(t, err, ErrStorageIO)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(path + ".create")
	assert.ErrorIs(t, err, os.ErrNotExist)

	w, err := Create(path, 3, distance.MetricDot)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "torn.wal", entries[0].Name())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 3, w.Header().Dimension)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.wal"))
	assert.ErrorIs(t, err, ErrStorageIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.wal")
	require.NoError(t, os.WriteFile(garbage, bytes.Repeat([]byte{0xAB}, 64), 0o600))
	_, err = Open(garbage)
	assert.ErrorIs(t, err, ErrCorruptHeader)

	short := filepath.Join(dir, "short.wal")
	require.NoError(t, os.WriteFile(short, []byte("FLATV"), 0o600))
	_, err = Open(short)
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 3, distance.MetricEuclidean)
	require.NoError(t, err)
	defer w.Close()

	size := w.Size()

	_, err = w.Append(insert(1, "short", 1, 2))
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = w.Append(&Entry{Op: Op(9), ID: 1})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	assert.Equal(t, size, w.Size())
	assert.Equal(t, uint64(0), w.LastSeq())
}

func TestAppendBeforeReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(insert(1, "x", 1))
	assert.ErrorIs(t, err, ErrNotReplayed)

	assert.Empty(t, replayAll(t, w))

	for _, err := range w.Replay() {
		assert.ErrorIs(t, err, ErrReplayed)
	}

	_, err = w.Append(insert(1, "x", 1))
	assert.NoError(t, err)
}

func TestReplayEarlyStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)
	for i := range 3 {
		_, err := w.Append(insert(int64(i), "x", 1))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	for e, err := range w.Replay() {
		require.NoError(t, err)
		assert.Equal(t, uint64(1), e.Seq)
		break
	}

	seq, err := w.Append(insert(10, "y", 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestTruncatedTailRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 2, distance.MetricEuclidean)
	require.NoError(t, err)

	var sizes []int64
	for i := range 3 {
		_, err := w.Append(insert(int64(i+1), "doc", float64(i), 1))
		require.NoError(t, err)
		sizes = append(sizes, w.Size())
	}
	require.NoError(t, w.Close())

	// Crash in the middle of the third write.
	require.NoError(t, os.Truncate(path, sizes[2]-5))

	w2, entries := reopen(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].ID)
	assert.Equal(t, uint64(2), w2.LastSeq())

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizes[1], st.Size())

	seq, err := w2.Append(insert(3, "again", 2, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	require.NoError(t, w2.Close())

	_, entries = reopen(t, path)
	require.Len(t, entries, 3)
	assert.Equal(t, "again", entries[2].Text)
}

func TestChecksumCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)

	var sizes []int64
	for i := range 3 {
		_, err := w.Append(insert(int64(i), "payload", float64(i)))
		require.NoError(t, err)
		sizes = append(sizes, w.Size())
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[sizes[1]-1] ^= 0xFF // last byte of the second entry
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, entries := reopen(t, path)
	require.Len(t, entries, 1)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizes[0], st.Size())
}

func TestOutOfSequenceEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")

	hdr := Header{Version: formatVersion, Dimension: 1, Metric: distance.MetricDot}
	buf := hdr.marshal()
	buf, err := appendEntry(buf, 1, insert(1, "a", 1), 1, CompressionNone, DefaultOptions.MaxEntrySize)
	require.NoError(t, err)
	good := len(buf)
	buf, err = appendEntry(buf, 3, insert(2, "b", 1), 1, CompressionNone, DefaultOptions.MaxEntrySize)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0o600))

	w, entries := reopen(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), w.LastSeq())
	assert.Equal(t, int64(good), w.Size())
}

func TestOversizedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	small := func(o *Options) { o.MaxEntrySize = 128 }

	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)
	_, err = w.Append(insert(1, "ok", 1))
	require.NoError(t, err)
	_, err = w.Append(insert(2, strings.Repeat("x", 512), 1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, entries := reopen(t, path, small)
	require.Len(t, entries, 1)

	w2, err := Create(filepath.Join(t.TempDir(), "small.wal"), 1, distance.MetricDot, small)
	require.NoError(t, err)
	defer w2.Close()
	_, err = w2.Append(insert(2, strings.Repeat("x", 512), 1))
	assert.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot, func(o *Options) { o.MaxEntrySize = 128 })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Validate(insert(1, "ok", 1)))
	assert.ErrorIs(t, w.Validate(insert(2, strings.Repeat("x", 512), 1)), ErrEntryTooLarge)
	assert.ErrorIs(t, w.Validate(insert(3, "short", 1, 2)), ErrInvalidEntry)

	bad := insert(4, "meta", 1)
	bad.Metadata = metadata.Document{"bad": metadata.Value{}}
	assert.ErrorIs(t, w.Validate(bad), ErrInvalidEntry)

	// Nothing was written.
	assert.Equal(t, int64(headerSize), w.Size())
	assert.Equal(t, uint64(0), w.LastSeq())
}

func TestCompressionRespectsRawLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot, func(o *Options) {
		o.MaxEntrySize = 256
		o.Compression = CompressionZstd
	})
	require.NoError(t, err)
	defer w.Close()

	// Compresses far below the limit but would not decode under it.
	_, err = w.Append(insert(1, strings.Repeat("a", 4096), 1))
	assert.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestCompression(t *testing.T) {
	for _, codec := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "docs.wal")
			withCodec := func(o *Options) { o.Compression = codec }

			w, err := Create(path, 4, distance.MetricCosine, withCodec)
			require.NoError(t, err)

			text := strings.Repeat("vector databases store embeddings. ", 20)
			for i := range 5 {
				e := insert(int64(i), text, 1, 2, 3, float64(i))
				e.Metadata = metadata.Document{"source": metadata.String(strings.Repeat("s", 100))}
				_, err := w.Append(e)
				require.NoError(t, err)
			}
			size := w.Size()
			require.NoError(t, w.Close())

			if codec != CompressionNone {
				raw := int64(headerSize + 5*(frameSize+len(text)))
				assert.Less(t, size, raw)
			}

			// Reading does not depend on the configured codec.
			_, entries := reopen(t, path)
			require.Len(t, entries, 5)
			for i, e := range entries {
				assert.Equal(t, text, e.Text)
				assert.Equal(t, []float64{1, 2, 3, float64(i)}, e.Vector)
				assert.Equal(t, strings.Repeat("s", 100), e.Metadata["source"].StringValue())
			}
		})
	}
}

func TestCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := w.Append(insert(int64(i), "v1", float64(i)))
		require.NoError(t, err)
	}
	_, err = w.Append(&Entry{Op: OpDelete, ID: 2})
	require.NoError(t, err)
	_, err = w.Append(insert(3, "v2", 30))
	require.NoError(t, err)
	require.Equal(t, uint64(7), w.LastSeq())
	before := w.Size()

	live := []*Entry{
		insert(1, "v1", 1),
		insert(3, "v2", 30),
		insert(4, "v1", 4),
		insert(5, "v1", 5),
	}
	require.NoError(t, w.Compact(context.Background(), func(yield func(*Entry) bool) {
		for _, e := range live {
			if !yield(e) {
				return
			}
		}
	}))

	assert.Equal(t, uint64(7), w.LastSeq())
	assert.Equal(t, uint64(3), w.Header().BaseSeq)
	assert.Less(t, w.Size(), before)

	seq, err := w.Append(insert(6, "v1", 6))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), seq)
	require.NoError(t, w.Close())

	_, err = os.Stat(path + ".compact")
	assert.ErrorIs(t, err, os.ErrNotExist)

	w2, entries := reopen(t, path)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, uint64(4+i), e.Seq)
	}
	assert.Equal(t, int64(3), entries[1].ID)
	assert.Equal(t, "v2", entries[1].Text)
	assert.Equal(t, uint64(8), w2.LastSeq())
}

func TestCompactRateLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	limited := func(o *Options) { o.CompactionLimiter = rate.NewLimiter(rate.Inf, 16) }

	w, err := Create(path, 2, distance.MetricDot, limited)
	require.NoError(t, err)
	defer w.Close()

	for i := range 10 {
		_, err := w.Append(insert(int64(i), "rate", 1, 2))
		require.NoError(t, err)
	}
	require.NoError(t, w.Compact(context.Background(), func(yield func(*Entry) bool) {
		yield(insert(9, "rate", 1, 2))
	}))
	assert.Equal(t, uint64(9), w.Header().BaseSeq)
}

func TestCompactCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(insert(1, "a", 1))
	require.NoError(t, err)
	size := w.Size()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = w.Compact(ctx, func(yield func(*Entry) bool) { yield(insert(1, "a", 1)) })
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, size, w.Size())
	_, err = os.Stat(path + ".compact")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAppendRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)
	_, err = w.Append(insert(1, "kept", 1))
	require.NoError(t, err)
	size := w.Size()
	require.NoError(t, w.Close())

	t.Run("ShortWrite", func(t *testing.T) {
		fsys := fs.NewFaultyFS(nil)
		fsys.AddRule("docs.wal", fs.Fault{FailAfterBytes: size + 10, ShortWrite: true})

		w, entries := reopen(t, path, func(o *Options) { o.FS = fsys })
		require.Len(t, entries, 1)

		_, err := w.Append(insert(2, "lost", 2))
		assert.ErrorIs(t, err, ErrStorageIO)
		assert.ErrorIs(t, err, fs.ErrInjected)
		assert.Equal(t, size, w.Size())
		assert.Equal(t, uint64(1), w.LastSeq())
		require.NoError(t, w.Close())

		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, size, st.Size())
	})

	t.Run("SyncFailure", func(t *testing.T) {
		fsys := fs.NewFaultyFS(nil)
		fsys.AddRule("docs.wal", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

		w, _ := reopen(t, path, func(o *Options) { o.FS = fsys })
		_, err := w.Append(insert(2, "lost", 2))
		assert.ErrorIs(t, err, ErrStorageIO)
		assert.Equal(t, size, w.Size())
		require.NoError(t, w.Close())

		_, entries := reopen(t, path)
		assert.Len(t, entries, 1)
	})

	t.Run("Poisoned", func(t *testing.T) {
		fsys := fs.NewFaultyFS(nil)
		fsys.AddRule("docs.wal", fs.Fault{FailAfterBytes: -1, FailOnSync: true, FailOnTruncate: true})

		w, _ := reopen(t, path, func(o *Options) { o.FS = fsys })
		_, err := w.Append(insert(2, "lost", 2))
		require.ErrorIs(t, err, ErrStorageIO)

		_, err2 := w.Append(insert(3, "refused", 3))
		assert.ErrorIs(t, err2, ErrStorageIO)
		assert.Equal(t, err, err2)
		assert.Equal(t, uint64(1), w.LastSeq())
	})
}

func TestLocked(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" || runtime.GOOS == "js" {
		t.Skip("advisory locks not supported")
	}
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, w.Close())
	w2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.wal")
	w, err := Create(path, 1, distance.MetricDot)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Append(insert(1, "a", 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.Sync(), ErrClosed)
}

func TestSnapshotScan(t *testing.T) {
	entries := []*Entry{insert(4, "four", 4, 0), insert(8, "eight", 8, 0)}
	entries[1].Metadata = metadata.Document{"k": metadata.Bool(true)}

	var buf bytes.Buffer
	n, err := WriteSnapshot(context.Background(), &buf, 2, distance.MetricEuclidean, 10, entries, CompressionLZ4)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	hdr, seq, err := Scan(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), hdr.BaseSeq)
	assert.Equal(t, distance.MetricEuclidean, hdr.Metric)

	var got []*Entry
	for e, err := range seq {
		require.NoError(t, err)
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint64(9), got[0].Seq)
	assert.Equal(t, uint64(10), got[1].Seq)
	assert.True(t, got[1].Metadata["k"].B)

	// A snapshot is a valid log file.
	path := filepath.Join(t.TempDir(), "restored.wal")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	w, replayed := reopen(t, path)
	assert.Len(t, replayed, 2)
	assert.Equal(t, uint64(10), w.LastSeq())

	// Scan is strict about torn input.
	_, seq, err = Scan(bytes.NewReader(buf.Bytes()[:buf.Len()-3]))
	require.NoError(t, err)
	var scanErr error
	for _, err := range seq {
		if err != nil {
			scanErr = err
		}
	}
	assert.ErrorIs(t, scanErr, ErrCorruptEntry)

	_, err = WriteSnapshot(context.Background(), &buf, 2, distance.MetricEuclidean, 1, entries, CompressionNone)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}
