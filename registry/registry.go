// Package registry manages the named stores of a host process.
//
// Each store lives in <root>/<name>.wal. A Registry is created once at
// process start and passed to the components that serve requests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/flatvec"
	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/wal"
	"golang.org/x/sync/errgroup"
)

// Ext is the file extension of store logs.
const Ext = ".wal"

// ErrInvalidName is returned for names outside [A-Za-z0-9_-]{1,64}.
var ErrInvalidName = errors.New("invalid store name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidName reports whether name can be used for a store.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// Options contains configuration for a Registry.
type Options struct {
	// StoreOptions are passed to every store the registry opens.
	StoreOptions []flatvec.Option

	// Logger receives lifecycle events.
	Logger *slog.Logger

	// OpenConcurrency bounds parallel store recovery in OpenAll.
	OpenConcurrency int
}

// DefaultOptions returns default registry options.
var DefaultOptions = Options{
	OpenConcurrency: 4,
}

// Registry owns a set of open stores keyed by name.
type Registry struct {
	mu     sync.RWMutex
	root   string
	opts   Options
	stores map[string]*flatvec.Store
	closed bool
}

// New creates a registry rooted at dir, creating the directory if needed.
// No store is opened until OpenAll, Create or GetOrCreate is called.
func New(root string, optFns ...func(o *Options)) (*Registry, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.OpenConcurrency <= 0 {
		opts.OpenConcurrency = 1
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create registry root: %w", flatvec.ErrStorageIO, err)
	}
	return &Registry{
		root:   root,
		opts:   opts,
		stores: make(map[string]*flatvec.Store),
	}, nil
}

// Root returns the directory holding the store logs.
func (r *Registry) Root() string { return r.root }

// Path returns the log path of the named store.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.root, name+Ext)
}

// OpenAll opens every store log found under the root, recovering them in
// parallel. Stores that are already open are skipped.
//
// A store that fails to open is logged and left closed; the others still
// open. A log whose header is unreadable is renamed to <name>.wal.corrupt-<ts>
// so the name can be created again. OpenAll only fails when the root cannot
// be listed or ctx is cancelled.
func (r *Registry) OpenAll(ctx context.Context) error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("%w: list %s: %w", flatvec.ErrStorageIO, r.root, err)
	}

	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), Ext)
		if !ok || e.IsDir() || !ValidName(name) {
			continue
		}
		names = append(names, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return flatvec.ErrClosed
	}

	var (
		mu     sync.Mutex
		opened = make(map[string]*flatvec.Store, len(names))
	)
	var g errgroup.Group
	g.SetLimit(r.opts.OpenConcurrency)
	for _, name := range names {
		if _, ok := r.stores[name]; ok {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := flatvec.Open(ctx, r.Path(name), r.opts.StoreOptions...)
			if err != nil {
				r.skip(ctx, name, err)
				return nil
			}
			mu.Lock()
			opened[name] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for _, s := range opened {
			_ = s.Close()
		}
		return fmt.Errorf("%w: %w", flatvec.ErrCancelled, err)
	}
	for name, s := range opened {
		r.stores[name] = s
		r.opts.Logger.InfoContext(ctx, "store opened",
			"name", name,
			"records", s.Count(),
			"seq", s.Seq(),
		)
	}
	return nil
}

// skip records a store that OpenAll could not open.
func (r *Registry) skip(ctx context.Context, name string, err error) {
	if ctx.Err() != nil {
		return
	}
	if !errors.Is(err, wal.ErrCorruptHeader) {
		r.opts.Logger.ErrorContext(ctx, "store skipped", "name", name, "error", err)
		return
	}
	path := r.Path(name)
	dst := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	if rerr := os.Rename(path, dst); rerr != nil {
		r.opts.Logger.ErrorContext(ctx, "store skipped", "name", name, "error", errors.Join(err, rerr))
		return
	}
	r.opts.Logger.ErrorContext(ctx, "store quarantined", "name", name, "file", dst, "error", err)
}

// Create creates and opens a new store. It fails with ErrStoreExists if the
// name is taken, either by an open store or by a log on disk.
func (r *Registry) Create(ctx context.Context, name string, dim int, metric distance.Metric) (*flatvec.Store, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, flatvec.ErrClosed
	}
	return r.createLocked(ctx, name, dim, metric)
}

func (r *Registry) createLocked(ctx context.Context, name string, dim int, metric distance.Metric) (*flatvec.Store, error) {
	path := r.Path(name)
	if _, ok := r.stores[name]; ok {
		return nil, fmt.Errorf("%w: %s", flatvec.ErrStoreExists, name)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", flatvec.ErrStoreExists, name)
	}

	s, err := flatvec.Open(ctx, path, r.storeOptions(flatvec.Create(dim, metric))...)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	r.opts.Logger.InfoContext(ctx, "store created",
		"name", name,
		"dimension", dim,
		"metric", metric.String(),
	)
	return s, nil
}

// GetOrCreate returns the named store, opening its log if it exists on disk
// or creating it otherwise. created reports whether a new store was made.
func (r *Registry) GetOrCreate(ctx context.Context, name string, dim int, metric distance.Metric) (s *flatvec.Store, created bool, err error) {
	if !ValidName(name) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, flatvec.ErrClosed
	}

	if s, ok := r.stores[name]; ok {
		return s, false, nil
	}
	path := r.Path(name)
	if _, err := os.Stat(path); err == nil {
		s, err := flatvec.Open(ctx, path, r.opts.StoreOptions...)
		if err != nil {
			return nil, false, err
		}
		r.stores[name] = s
		return s, false, nil
	}
	s, err = r.createLocked(ctx, name, dim, metric)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Get returns an open store.
func (r *Registry) Get(name string) (*flatvec.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, flatvec.ErrClosed
	}
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", flatvec.ErrStoreNotFound, name)
	}
	return s, nil
}

// Names returns the names of the open stores in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Drop deletes the named store and its log.
func (r *Registry) Drop(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return flatvec.ErrClosed
	}
	s, ok := r.stores[name]
	if !ok {
		return fmt.Errorf("%w: %s", flatvec.ErrStoreNotFound, name)
	}
	delete(r.stores, name)
	if err := s.Drop(); err != nil {
		return err
	}
	r.opts.Logger.InfoContext(ctx, "store dropped", "name", name)
	return nil
}

// Restore creates the named store from a snapshot stream.
func (r *Registry) Restore(ctx context.Context, name string, src io.Reader) (*flatvec.Store, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, flatvec.ErrClosed
	}
	if _, ok := r.stores[name]; ok {
		return nil, fmt.Errorf("%w: %s", flatvec.ErrStoreExists, name)
	}

	s, err := flatvec.Restore(ctx, r.Path(name), src, r.opts.StoreOptions...)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	r.opts.Logger.InfoContext(ctx, "store restored",
		"name", name,
		"records", s.Count(),
	)
	return s, nil
}

// Close closes every open store. The registry is unusable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for name, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %q: %w", name, err))
		}
	}
	r.stores = nil
	return errors.Join(errs...)
}

func (r *Registry) storeOptions(extra ...flatvec.Option) []flatvec.Option {
	out := make([]flatvec.Option, 0, len(r.opts.StoreOptions)+len(extra))
	out = append(out, r.opts.StoreOptions...)
	return append(out, extra...)
}
