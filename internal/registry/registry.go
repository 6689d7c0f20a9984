package registry

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("registry: pyramid not found")
	ErrDuplicateUUID = errors.New("registry: duplicate pyramid uuid")
	ErrStorage       = errors.New("registry: backend failure")
)

// Registry persists pyramid descriptors. SetTiles and Claim are atomic at
// the backing store: concurrent writers are serialized and readers only
// ever observe a legal tiles value.
type Registry interface {
	// Create inserts a new descriptor. The uuid must be unused.
	Create(ctx context.Context, d *Descriptor) error

	// Find returns the descriptor for uuid.
	Find(ctx context.Context, uuid string) (*Descriptor, error)

	// List returns all descriptors.
	List(ctx context.Context) ([]*Descriptor, error)

	// SetTiles replaces the tiles field in a single atomic update.
	SetTiles(ctx context.Context, uuid string, ts TileSet) error

	// Claim transitions tiles from pending to processing, atomically.
	// ErrNotFound means the pyramid does not exist or another worker
	// already owns the job.
	Claim(ctx context.Context, uuid string) error

	// Delete removes the descriptor and returns its final value so the
	// caller can tear down the referenced blobs.
	Delete(ctx context.Context, uuid string) (*Descriptor, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}
