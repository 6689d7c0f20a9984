package blobstore

import (
	"context"
	"fmt"
	"strings"
)

// Open selects a backend from the endpoint's scheme:
//
//	mem:                  in-memory store
//	sqlite:/path/to.db    embedded SQLite file
//	s3://KEY:SECRET@host/bucket    S3-compatible object storage
//	s3+insecure://...     same, over plain HTTP
func Open(ctx context.Context, endpoint string) (Store, error) {
	switch {
	case endpoint == "mem:" || endpoint == "mem":
		return NewMemStore(), nil
	case strings.HasPrefix(endpoint, "sqlite:"):
		return NewSQLiteStore(strings.TrimPrefix(endpoint, "sqlite:"))
	case strings.HasPrefix(endpoint, "s3://"), strings.HasPrefix(endpoint, "s3+insecure://"):
		return NewS3Store(ctx, endpoint)
	}
	return nil, fmt.Errorf("%w: unrecognized blob store endpoint %q", ErrStorage, endpoint)
}
