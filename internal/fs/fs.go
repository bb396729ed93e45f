package fs

import (
	"io"
	"os"
)

// File is the handle the log writes through. Truncate is required because a
// failed append is rolled back by cutting the file at its previous end.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// FileSystem is the set of path operations the log and the local blob store
// need: opening files, atomic replace by rename, and directory listing.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
}

// Default is the FileSystem used when none is configured.
var Default FileSystem = LocalFS{}

var _ FileSystem = LocalFS{}

// LocalFS passes every call straight to package os.
type LocalFS struct{}

// OpenFile returns an *os.File, which satisfies File.
func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm) //nolint:gosec // G304: paths come from configuration
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (LocalFS) Remove(name string) error { return os.Remove(name) }

func (LocalFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (LocalFS) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }
