package wal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/flatvec/internal/compress"
	"github.com/hupe1980/flatvec/internal/fs"
	"github.com/hupe1980/flatvec/metadata"
	"golang.org/x/time/rate"
)

var (
	// ErrStorageIO wraps every failure of the underlying file.
	ErrStorageIO = errors.New("wal: storage i/o failure")
	// ErrCorruptHeader is returned when the log header is unreadable.
	ErrCorruptHeader = errors.New("wal: corrupt header")
	// ErrUnsupportedVersion is returned for logs written by an unknown format version.
	ErrUnsupportedVersion = errors.New("wal: unsupported format version")
	// ErrCorruptEntry marks an entry that failed validation.
	ErrCorruptEntry = errors.New("wal: corrupt entry")
	// ErrInvalidEntry is returned by Append for entries that cannot be logged.
	ErrInvalidEntry = errors.New("wal: invalid entry")
	// ErrEntryTooLarge is returned when an encoded entry exceeds MaxEntrySize.
	ErrEntryTooLarge = errors.New("wal: entry too large")
	// ErrReplayed is returned by a second call to Replay.
	ErrReplayed = errors.New("wal: log already replayed")
	// ErrNotReplayed is returned by writes issued before Replay finished.
	ErrNotReplayed = errors.New("wal: log not replayed")
	// ErrLocked is returned when another process holds the log.
	ErrLocked = errors.New("wal: log is locked by another process")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wal: closed")
)

// Op identifies the mutation recorded by an entry.
type Op uint8

const (
	// OpInsert inserts or replaces a record.
	OpInsert Op = 1
	// OpDelete removes a record.
	OpDelete Op = 2
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Entry is a single logged mutation. Text, Vector and Metadata are only set
// for OpInsert.
type Entry struct {
	Seq      uint64
	Op       Op
	ID       int64
	Text     string
	Vector   []float64
	Metadata metadata.Document
}

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every append before it returns.
	DurabilitySync DurabilityMode = iota

	// DurabilityAsync leaves appended bytes in the OS page cache.
	// A crash may lose acknowledged entries; meant for tests and bulk loads.
	DurabilityAsync
)

func (d DurabilityMode) String() string {
	switch d {
	case DurabilitySync:
		return "sync"
	case DurabilityAsync:
		return "async"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// Compression selects the payload codec for new entries.
type Compression = compress.Codec

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZstd = compress.Zstd
)

// ParseCompression maps a configuration name ("none", "lz4", "zstd") to a
// Compression.
func ParseCompression(name string) (Compression, error) {
	return compress.Parse(strings.ToLower(name))
}

// Options contains configuration for the WAL.
type Options struct {
	// FS is the file system holding the log. Defaults to the local disk.
	FS fs.FileSystem

	// Logger receives recovery warnings.
	Logger *slog.Logger

	// DurabilityMode controls fsync behavior.
	DurabilityMode DurabilityMode

	// Compression is applied to insert payloads of new entries. Entries that
	// do not shrink are stored uncompressed.
	Compression Compression

	// MaxEntrySize bounds a single entry payload. Larger entries are refused
	// on append and treated as corruption on replay.
	MaxEntrySize int

	// CompactionLimiter throttles compaction writes in bytes per second.
	// Nil disables throttling.
	CompactionLimiter *rate.Limiter
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	DurabilityMode: DurabilitySync,
	Compression:    CompressionNone,
	MaxEntrySize:   64 << 20,
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultOptions.MaxEntrySize
	}
	return opts
}
