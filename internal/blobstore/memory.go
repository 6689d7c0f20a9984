package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemStore keeps blobs in process memory. Used by tests and by servers
// running with --blob-store-endpoint=mem: where persistence across
// restarts is not needed.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = data
	s.mu.Unlock()
	return id, nil
}

func (s *MemStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Close() error { return nil }

// Len reports the number of stored blobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
