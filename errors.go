package flatvec

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/flatvec/metadata"
	"github.com/hupe1980/flatvec/wal"
)

var (
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument is returned for malformed requests (non-positive k,
	// invalid filters, non-finite vectors).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidDimension is returned when a store is created with a
	// non-positive dimension.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrStorageIO wraps failures of the log file. The in-memory state is
	// unchanged when a mutation returns it.
	ErrStorageIO = errors.New("storage i/o failure")

	// ErrCancelled is returned when the caller's context ends an operation.
	// The context error is wrapped as well.
	ErrCancelled = errors.New("operation cancelled")

	// ErrClosed is returned by operations on a closed or dropped store.
	ErrClosed = errors.New("store closed")

	// ErrStoreExists is returned when creating a store that already exists.
	ErrStoreExists = errors.New("store already exists")

	// ErrStoreNotFound is returned when opening a store that does not exist.
	ErrStoreNotFound = errors.New("store not found")
)

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, wal.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, wal.ErrInvalidEntry), errors.Is(err, wal.ErrEntryTooLarge):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, metadata.ErrInvalidFilter):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, wal.ErrStorageIO),
		errors.Is(err, wal.ErrCorruptHeader),
		errors.Is(err, wal.ErrUnsupportedVersion),
		errors.Is(err, wal.ErrCorruptEntry),
		errors.Is(err, wal.ErrLocked),
		errors.Is(err, wal.ErrNotReplayed):
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return err
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
