//go:build unix

package wal

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type fder interface {
	Fd() uintptr
}

// lockFile takes an exclusive advisory lock on f. Files that do not expose a
// descriptor (test doubles) are not locked.
func lockFile(f any) (func() error, error) {
	fd, ok := f.(fder)
	if !ok {
		return func() error { return nil }, nil
	}
	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil { //nolint:gosec // fd fits in int
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("%w: flock: %w", ErrStorageIO, err)
	}
	return func() error {
		return unix.Flock(int(fd.Fd()), unix.LOCK_UN) //nolint:gosec // fd fits in int
	}, nil
}
