package flatvec

import (
	"log/slog"

	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/internal/fs"
	"github.com/hupe1980/flatvec/wal"
	"golang.org/x/time/rate"
)

type createOptions struct {
	dimension int
	metric    distance.Metric
}

type options struct {
	create            *createOptions
	metricsCollector  MetricsCollector
	logger            *Logger
	durability        wal.DurabilityMode
	compression       wal.Compression
	compactionLimiter *rate.Limiter
	fs                fs.FileSystem
}

// Option configures Open behavior.
type Option func(*options)

// Create makes Open create the store when its log does not exist yet.
//
// If the store exists, its persisted dimension and metric must match.
//
//	store, _ := flatvec.Open(ctx, "./docs.wal", flatvec.Create(768, distance.MetricCosine))
func Create(dimension int, metric distance.Metric) Option {
	return func(o *options) {
		o.create = &createOptions{dimension: dimension, metric: metric}
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &flatvec.BasicMetricsCollector{}
//	store, _ := flatvec.Open(ctx, path, flatvec.WithMetricsCollector(metrics))
//	// ... use store ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
//	logger := flatvec.NewJSONLogger(slog.LevelInfo)
//	store, _ := flatvec.Open(ctx, path, flatvec.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithDurability sets the fsync policy of the log. The default,
// wal.DurabilitySync, makes every acknowledged mutation crash-safe.
func WithDurability(mode wal.DurabilityMode) Option {
	return func(o *options) {
		o.durability = mode
	}
}

// WithCompression compresses insert payloads in the log.
func WithCompression(c wal.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCompactionRateLimit throttles Compact to bytesPerSecond.
// Zero or negative disables throttling.
func WithCompactionRateLimit(bytesPerSecond int) Option {
	return func(o *options) {
		if bytesPerSecond <= 0 {
			o.compactionLimiter = nil
			return
		}
		burst := min(max(bytesPerSecond, 4<<10), 1<<20)
		o.compactionLimiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
}

func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		durability:       wal.DurabilitySync,
		compression:      wal.CompressionNone,
		fs:               fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o *options) walOptions(wo *wal.Options) {
	wo.FS = o.fs
	wo.Logger = o.logger.Logger
	wo.DurabilityMode = o.durability
	wo.Compression = o.compression
	wo.CompactionLimiter = o.compactionLimiter
}
