package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrInvalidName is returned for blob names that would escape the store root.
var ErrInvalidName = errors.New("blobstore: invalid blob name")

// BlobStore holds immutable blobs addressed by slash-separated names.
//
// Implementations must be safe for concurrent use. Put either stores the
// complete stream or nothing.
type BlobStore interface {
	// Put stores the content read from r under name, replacing any blob
	// with the same name.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}
