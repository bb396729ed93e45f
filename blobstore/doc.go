// Package blobstore provides backup targets for store snapshots.
//
// BlobStore is the interface for writing and reading whole blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, atomic rename on Put
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with multipart uploads
//   - minio.Store: MinIO and other S3-compatible storage
//
// # Backups
//
// Backup streams Store.Snapshot straight into a BlobStore without staging
// it on disk; Restore reads it back into a new store:
//
//	info, err := blobstore.Backup(ctx, bs, "docs", store)
//	...
//	restored, err := blobstore.Restore(ctx, bs, info.Key, "./docs.wal")
package blobstore
