package xref

import (
	"context"
	"sync"
)

// MemoryStore keeps mappings in process memory.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, source, target string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[source]; ok {
		return existing, false, nil
	}
	s.m[source] = target
	return target, true, nil
}

func (s *MemoryStore) Get(_ context.Context, source string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.m[source]
	if !ok {
		return "", ErrNotFound
	}
	return target, nil
}

func (s *MemoryStore) Set(_ context.Context, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[source] = target
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, source)
	return nil
}
