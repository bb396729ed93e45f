package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/flatvec"
)

// SnapshotExt is the file extension of snapshot blobs.
const SnapshotExt = ".snap"

// Info describes a completed backup.
type Info struct {
	Key     string `json:"key"`
	Size    int64  `json:"size"`
	Seq     uint64 `json:"seq"`
	Records int    `json:"records"`
}

// NewKey returns a fresh snapshot key below prefix. Keys of the same prefix
// sort in creation order.
func NewKey(prefix string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("20060102T150405.000000000Z")+"-"+uuid.NewString()+SnapshotExt)
}

// Backup streams a snapshot of s into bs below prefix.
func Backup(ctx context.Context, bs BlobStore, prefix string, s *flatvec.Store) (Info, error) {
	info := Info{
		Key:     NewKey(prefix, time.Now()),
		Seq:     s.Seq(),
		Records: s.Count(),
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		n, err := s.Snapshot(ctx, pw)
		info.Size = n
		_ = pw.CloseWithError(err)
		done <- err
	}()

	putErr := bs.Put(ctx, info.Key, pr)
	// Unblock the snapshot writer if Put gave up early.
	_ = pr.CloseWithError(errors.Join(putErr, io.ErrClosedPipe))
	snapErr := <-done

	switch {
	case snapErr != nil && !errors.Is(snapErr, io.ErrClosedPipe):
		_ = bs.Delete(context.WithoutCancel(ctx), info.Key)
		return Info{}, fmt.Errorf("snapshot %s: %w", s.Path(), snapErr)
	case putErr != nil:
		_ = bs.Delete(context.WithoutCancel(ctx), info.Key)
		return Info{}, fmt.Errorf("put %s: %w", info.Key, putErr)
	}
	return info, nil
}

// Latest returns the newest snapshot key below prefix.
func Latest(ctx context.Context, bs BlobStore, prefix string) (string, error) {
	names, err := bs.List(ctx, prefix+"/")
	if err != nil {
		return "", err
	}
	for i := len(names) - 1; i >= 0; i-- {
		if path.Ext(names[i]) == SnapshotExt {
			return names[i], nil
		}
	}
	return "", fmt.Errorf("%w: no snapshot below %s", ErrNotFound, prefix)
}

// Restore materializes the snapshot stored under key as a new store at
// storePath.
func Restore(ctx context.Context, bs BlobStore, key, storePath string, opts ...flatvec.Option) (*flatvec.Store, error) {
	rc, err := bs.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return flatvec.Restore(ctx, storePath, rc, opts...)
}
