// Package leveldb implements a disk-backed cache store on top of an
// embedded LevelDB database.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/apigrove/media-gateway/internal/cache"
	"github.com/apigrove/media-gateway/internal/gateway"
)

// Store persists entries in a LevelDB database so cached provider
// results survive restarts.
type Store struct {
	db    *leveldb.DB
	ttl   time.Duration
	clock gateway.Clock
}

// Open opens (or creates) the database at path. A zero ttl disables
// expiry.
func Open(path string, ttl time.Duration, clock gateway.Clock) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &Store{db: db, ttl: ttl, clock: clock}, nil
}

// Get returns the live value for key or cache.ErrNotFound. Expired
// entries are deleted lazily on read.
func (s *Store) Get(_ context.Context, key string) (json.RawMessage, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	entry, err := cache.DecodeEntry(data)
	if err != nil {
		// A corrupt row is unreadable forever; drop it and miss.
		_ = s.db.Delete([]byte(key), nil)
		return nil, cache.ErrNotFound
	}
	if entry.Expired(s.ttl, s.clock.Now()) {
		_ = s.db.Delete([]byte(key), nil)
		return nil, cache.ErrNotFound
	}
	return entry.Value, nil
}

// Put stores value under key, replacing any previous entry.
func (s *Store) Put(_ context.Context, key string, value json.RawMessage) error {
	data, err := cache.EncodeEntry(cache.Entry{Value: value, StoredAt: s.clock.Now()})
	if err != nil {
		return err
	}
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}
	return nil
}
