package mauzr

import (
	"errors"
	"sync"
)

// ErrStoreClosed is returned by a Store after Close.
var ErrStoreClosed = errors.New("store closed")

// Store is a durable string keyed store. Implementations must survive
// process restarts once Sync returned.
type Store interface {
	// Get returns the value of key and whether it exists.
	Get(key string) ([]byte, bool, error)

	// Set stores value under key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Items returns a snapshot of every key and value.
	Items() (map[string][]byte, error)

	// Sync flushes pending writes to durable storage.
	Sync() error

	// Close syncs and releases the store.
	Close() error
}

// MemoryStore is an in-memory implementation of Store. It does not survive
// restarts and is meant for tests and agents without persistent storage.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	syncs  int
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(value), true, nil
}

// Set stores a value.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.values[key] = cloneBytes(value)
	return nil
}

// Delete removes a value.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.values, key)
	return nil
}

// Items returns a copy of all stored values.
func (s *MemoryStore) Items() (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	items := make(map[string][]byte, len(s.values))
	for k, v := range s.values {
		items[k] = cloneBytes(v)
	}
	return items, nil
}

// Sync counts the call; there is nothing to flush.
func (s *MemoryStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.syncs++
	return nil
}

// Syncs returns how often Sync was called.
func (s *MemoryStore) Syncs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncs
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Reopen returns a store holding the same values, as if the process had
// restarted and reopened its storage.
func (s *MemoryStore) Reopen() *MemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reopened := NewMemoryStore()
	for k, v := range s.values {
		reopened.values[k] = cloneBytes(v)
	}
	return reopened
}

// Count returns the number of stored values.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
