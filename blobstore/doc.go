// Package blobstore stores the immutable blobs of the video store: encoded tile
// chunks and layout manifests.
//
// Blob names are slash separated paths such as "traffic/tiles/<id>/tile-0003-000030.bin".
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, reads through mmap
//   - MemoryStore: in-process, for tests and ephemeral stores
//   - CachingStore: block cache in front of another store
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3, with s3.DDBCommitStore for atomic CURRENT pointers
package blobstore
