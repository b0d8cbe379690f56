// Package blobstore stores generated export files. Backends: in-memory for
// development and tests, MinIO, and Amazon S3.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrBlobNotFound = errors.New("blob not found")

// Store is the contract every blob backend satisfies. Keys are opaque
// slash-separated paths such as "exports/<user>/<file>".
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type memoryBlob struct {
	contentType string
	content     []byte
}

// MemoryStore is a thread-safe, in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader, _ int64) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	s.mu.Lock()
	s.blobs[key] = memoryBlob{contentType: contentType, content: data}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.content)), nil
}

// Delete is idempotent: removing a missing key is not an error, matching
// the object-store backends.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
