package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryStore is a thread-safe in-memory BlobStore for tests and dev.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader, maxSize int64) (*Object, error) {
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	size, sum, err := hashingCopy(&buf, content, maxSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[key] = buf.Bytes()
	s.mu.Unlock()

	return &Object{Key: key, ContentType: ct, Size: size, Hash: sum}, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
