// Package blobstore persists opaque immutable byte blobs under
// store-assigned ids. Backends: S3-compatible object storage, an embedded
// SQLite file, and an in-memory store for tests and throwaway servers.
package blobstore

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound = errors.New("blobstore: blob not found")
	ErrStorage  = errors.New("blobstore: backend failure")
)

// Store is the abstract blob store. Blobs are immutable: written once via
// Put, read many times, removed only by explicit Delete. Put is atomic —
// a blob never becomes visible in partially written form, and Get never
// yields a partial blob.
type Store interface {
	// Put streams r into the store and returns the new blob's opaque id.
	Put(ctx context.Context, r io.Reader, contentType string) (string, error)

	// Get opens the blob for reading. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}
