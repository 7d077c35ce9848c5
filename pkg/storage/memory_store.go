package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps content in process, keyed by its computed CID.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[c.String()] = data
	s.mu.Unlock()
	return c.String(), nil
}

func (s *MemoryStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
