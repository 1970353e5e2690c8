// Package kv provides the namespaced key-value store contract consumed by
// the thought tree, the forge and the pattern caches. Values are
// JSON-compatible structured data.
package kv

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist (and no default applies).
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key in namespace, or ErrNotFound.
	Get(namespace, key string) (any, error)
	// Set stores value under key; ttl <= 0 means no expiry.
	Set(namespace, key string, value any, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(namespace, key string) error
	// Keys lists all live keys in a namespace.
	Keys(namespace string) ([]string, error)
	// GetAll returns every live key/value pair in a namespace.
	GetAll(namespace string) (map[string]any, error)
	// Close releases resources.
	Close() error
}

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryStore is the in-memory Store used by tests and as a fallback.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]memoryEntry)}
}

func (s *MemoryStore) Get(namespace, key string) (any, error) {
	s.mu.RLock()
	entry, ok := s.data[namespace][key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data[namespace], key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(namespace, key string, value any, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		s.data[namespace] = ns
	}
	ns[key] = entry
	return nil
}

func (s *MemoryStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[namespace], key)
	return nil
}

func (s *MemoryStore) Keys(namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	keys := make([]string, 0, len(s.data[namespace]))
	for k, entry := range s.data[namespace] {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) GetAll(namespace string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make(map[string]any, len(s.data[namespace]))
	for k, entry := range s.data[namespace] {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		out[k] = entry.value
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
