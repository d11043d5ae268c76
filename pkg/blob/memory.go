package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore holds objects in a map. Tests use it directly; it can also
// simulate a presigning object store to exercise direct uploads.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PresignBase, when set, enables PresignPut returning
	// "<PresignBase>/<key>". Tests exercising direct uploads set it.
	PresignBase string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores the full contents of r at key.
func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return 0, fmt.Errorf("reading object: %w", err)
	}
	s.mu.Lock()
	s.objects[key] = buf.Bytes()
	s.mu.Unlock()
	return n, nil
}

// Get opens the object at key.
func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns object metadata.
func (s *MemoryStore) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{Key: key, SizeBytes: int64(len(data))}, nil
}

// Delete removes the object at key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// PresignPut returns a synthetic direct-upload URL when PresignBase is set.
func (s *MemoryStore) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	if s.PresignBase == "" {
		return "", ErrPresignUnsupported
	}
	return s.PresignBase + "/" + key, nil
}

// Provider names the driver.
func (s *MemoryStore) Provider() string { return "memory" }

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }
