// Package cache defines the provider-result cache contract and the key
// policy shared by all backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// ErrNotFound is returned by Get when a key has no live entry.
var ErrNotFound = errors.New("cache: entry not found")

// Store is a key/value store for provider results. Implementations
// must be safe for concurrent use. Backend failures surface as errors;
// the caller treats them as misses and never fails the request.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Put(ctx context.Context, key string, value json.RawMessage) error
	Close() error
}

// Entry is the stored form of a provider result. StoredAt drives the
// optional TTL policy; a zero TTL means entries never expire.
type Entry struct {
	Value    json.RawMessage `json:"v"`
	StoredAt time.Time       `json:"at"`
}

// Expired reports whether the entry is past the given TTL.
func (e Entry) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) > ttl
}

// Key builds the cache key for a target URL and operation. The URL is
// normalized so that equivalent spellings share an entry: scheme and
// host are lowercased, default ports stripped, fragments dropped.
// An unparseable URL falls back to its raw string.
func Key(targetURL string, op gateway.OperationType) string {
	return normalize(targetURL) + "|" + string(op)
}

func normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	return u.String()
}

// EncodeEntry marshals an entry for disk-backed stores.
func EncodeEntry(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

// DecodeEntry unmarshals an entry written by EncodeEntry.
func DecodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}
