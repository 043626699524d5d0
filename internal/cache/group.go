package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Loader computes the value for a key on a cache miss.
type Loader func(ctx context.Context) (json.RawMessage, error)

// Group collapses concurrent identical misses into a single in-flight
// provider call; every waiter receives the same result. The underlying
// singleflight entry is forgotten once settled so a later miss for the
// same key computes fresh.
type Group struct {
	sf singleflight.Group
}

// Do runs fn for key unless an identical call is already in flight, in
// which case it waits for that call's result. shared reports whether
// the result was handed to more than one caller.
func (g *Group) Do(ctx context.Context, key string, fn Loader) (value json.RawMessage, shared bool, err error) {
	v, err, shared := g.sf.Do(key, func() (any, error) {
		defer g.sf.Forget(key)
		return fn(ctx)
	})
	if err != nil {
		return nil, shared, fmt.Errorf("coalesced load %q: %w", key, err)
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		return nil, shared, fmt.Errorf("coalesced load %q: unexpected value type %T", key, v)
	}
	return raw, shared, nil
}
