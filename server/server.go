// Package server exposes registry stores over a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hupe1980/flatvec/blobstore"
	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/embed"
	"github.com/hupe1980/flatvec/registry"
	"golang.org/x/sync/errgroup"
)

// DefaultTopK is used when a search request omits top_k.
const DefaultTopK = 10

// Options contains configuration for a Server.
type Options struct {
	// Embedder turns document and query text into vectors. Without it,
	// requests must carry vectors.
	Embedder embed.Embedder

	// Backups receives snapshots. Without it the backup routes answer 501.
	Backups blobstore.BlobStore

	// DefaultMetric applies to collections created without a metric.
	DefaultMetric distance.Metric

	// Logger receives access and error logs.
	Logger *slog.Logger

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// BackupConcurrency bounds parallel snapshots in BackupAll.
	BackupConcurrency int
}

// Server serves the collection API.
type Server struct {
	reg  *registry.Registry
	opts Options
	mux  *http.ServeMux
}

// New creates a server over reg.
func New(reg *registry.Registry, optFns ...func(o *Options)) *Server {
	opts := Options{
		DefaultMetric:     distance.MetricCosine,
		MaxBodyBytes:      8 << 20,
		BackupConcurrency: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.BackupConcurrency <= 0 {
		opts.BackupConcurrency = 1
	}

	s := &Server{
		reg:  reg,
		opts: opts,
		mux:  http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /backup", s.handleBackupAll)

	s.mux.HandleFunc("GET /collections", s.handleListCollections)
	s.mux.HandleFunc("POST /collections", s.handleCreateCollection)
	s.mux.HandleFunc("DELETE /collections/{name}", s.handleDropCollection)
	s.mux.HandleFunc("GET /collections/{name}/count", s.handleCount)
	s.mux.HandleFunc("POST /collections/{name}/compact", s.handleCompact)
	s.mux.HandleFunc("POST /collections/{name}/backup", s.handleBackup)
	s.mux.HandleFunc("POST /collections/{name}/search", s.handleSearch)

	s.mux.HandleFunc("POST /collections/{name}/documents", s.handleInsert)
	s.mux.HandleFunc("POST /collections/{name}/documents/batch", s.handleBatchInsert)
	s.mux.HandleFunc("POST /collections/{name}/documents/get", s.handleGetMany)
	s.mux.HandleFunc("POST /collections/{name}/documents/delete", s.handleDeleteMany)
	s.mux.HandleFunc("GET /collections/{name}/documents/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /collections/{name}/documents/{id}", s.handleDelete)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withRequestID(s.accessLog(s.mux)).ServeHTTP(w, r)
}

// BackupAll snapshots every open store into the blob store.
func (s *Server) BackupAll(ctx context.Context) ([]blobstore.Info, error) {
	if s.opts.Backups == nil {
		return nil, errBackupsDisabled
	}
	names := s.reg.Names()
	infos := make([]blobstore.Info, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BackupConcurrency)
	for i, name := range names {
		g.Go(func() error {
			store, err := s.reg.Get(name)
			if err != nil {
				return err
			}
			info, err := blobstore.Backup(gctx, s.opts.Backups, name, store)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

func (s *Server) backup(ctx context.Context, name string) (blobstore.Info, error) {
	if s.opts.Backups == nil {
		return blobstore.Info{}, errBackupsDisabled
	}
	store, err := s.reg.Get(name)
	if err != nil {
		return blobstore.Info{}, err
	}
	return blobstore.Backup(ctx, s.opts.Backups, name, store)
}
