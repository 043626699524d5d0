// Package memory implements an in-process cache store.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apigrove/media-gateway/internal/cache"
	"github.com/apigrove/media-gateway/internal/gateway"
)

// Store keeps entries in a map guarded by an RWMutex. It is the
// default backend and survives only for the process lifetime.
type Store struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
	ttl     time.Duration
	clock   gateway.Clock
}

// New creates a Store. A zero ttl disables expiry.
func New(ttl time.Duration, clock gateway.Clock) *Store {
	return &Store{
		entries: make(map[string]cache.Entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the live value for key or cache.ErrNotFound. Expired
// entries are deleted lazily on read.
func (s *Store) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	if entry.Expired(s.ttl, s.clock.Now()) {
		s.mu.Lock()
		// Re-check under the write lock; a Put may have raced in.
		if current, ok := s.entries[key]; ok && current.StoredAt.Equal(entry.StoredAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, cache.ErrNotFound
	}
	return entry.Value, nil
}

// Put stores value under key, replacing any previous entry.
func (s *Store) Put(_ context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	s.entries[key] = cache.Entry{Value: value, StoredAt: s.clock.Now()}
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}

// Len reports the number of stored entries, for tests and diagnostics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
