package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apigrove/media-gateway/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetMissReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := New(0, &fakeClock{now: time.Unix(0, 0)})
	_, err := s.Get(context.Background(), "absent")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestPutThenGet(t *testing.T) {
	t.Parallel()

	s := New(0, &fakeClock{now: time.Unix(0, 0)})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", json.RawMessage(`{"a":1}`)))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(got))
}

func TestLastWriteWins(t *testing.T) {
	t.Parallel()

	s := New(0, &fakeClock{now: time.Unix(0, 0)})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", json.RawMessage(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "k", json.RawMessage(`{"v":2}`)))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(got))
}

func TestTTLExpiryReadsAsMissAndDeletes(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := New(time.Minute, clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", json.RawMessage(`{}`)))
	clock.advance(2 * time.Minute)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.Zero(t, s.Len(), "expired entry should be lazily deleted")
}

func TestConcurrentAccessDistinctKeys(t *testing.T) {
	t.Parallel()

	s := New(0, &fakeClock{now: time.Unix(0, 0)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			require.NoError(t, s.Put(ctx, key, json.RawMessage(`{}`)))
			_, err := s.Get(ctx, key)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
