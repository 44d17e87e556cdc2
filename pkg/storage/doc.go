// Package storage defines the object store used for picture bytes and the
// shared storage configuration.
//
// Picture content is addressed by its SHA-256 digest so identical uploads
// share one object:
//
//	key := storage.ContentKey(sha256.Sum256(data))
//	err := store.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), "image/png")
//
// Two implementations exist: S3Store for production (any S3-compatible
// endpoint) and FileSystemStore for local development. Instrument wraps
// either one to report per-call latency and bytes. Postgres and Redis
// connection helpers live in the postgres subpackage.
package storage
