package minio

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/hupe1980/flatvec/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))

	err := mapError("a.snap", minio.ErrorResponse{Code: "NoSuchKey"})
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestKey(t *testing.T) {
	s := NewStore(nil, "bucket", "backups/")
	assert.Equal(t, "backups/docs/a.snap", s.key("docs/a.snap"))
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	store := NewStore(client, "test-flatvec", "test-prefix/")
	require.NoError(t, store.EnsureBucket(ctx, ""))

	require.NoError(t, store.Put(ctx, "docs/test.snap", strings.NewReader("hello minio world")))

	rc, err := store.Open(ctx, "docs/test.snap")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello minio world", string(data))

	names, err := store.List(ctx, "docs/")
	require.NoError(t, err)
	assert.Contains(t, names, "docs/test.snap")

	require.NoError(t, store.Delete(ctx, "docs/test.snap"))
	_, err = store.Open(ctx, "docs/test.snap")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
