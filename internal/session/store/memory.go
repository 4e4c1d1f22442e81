package store

import (
	"context"
	"sync"
)

// MemoryStore keeps values for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID, key string) (string, bool, error) {
	if sessionID == "" {
		return "", false, ErrSessionRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[sessionID][key]
	return value, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID, key, value string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.values[sessionID]
	if !ok {
		session = make(map[string]string)
		s.values[sessionID] = session
	}
	session[key] = value
	return nil
}

func (s *MemoryStore) Close() error { return nil }
