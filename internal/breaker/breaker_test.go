package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

func TestStaysActiveAtThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := New(Config{Threshold: 50}, clock, nil)

	for i := 0; i < 49; i++ {
		require.NoError(t, b.Allow("203.0.113.7"))
	}
	require.False(t, b.Tripped())
}

func TestTripsAboveThresholdExactlyOnce(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	var trips atomic.Int64
	var tripClient string
	b := New(Config{Threshold: 50}, clock, func(client, reason string) {
		trips.Add(1)
		tripClient = client
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Allow("203.0.113.7"))
	}
	// Request 51 within the same second crosses the line.
	require.ErrorIs(t, b.Allow("203.0.113.7"), ErrTripped)
	require.True(t, b.Tripped())
	require.Equal(t, int64(1), trips.Load())
	require.Equal(t, "203.0.113.7", tripClient)

	// Still tripped, and the callback never fires again.
	for i := 0; i < 10; i++ {
		require.ErrorIs(t, b.Allow("198.51.100.1"), ErrTripped)
	}
	require.Equal(t, int64(1), trips.Load())
}

func TestWindowBoundaryResetsCounter(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := New(Config{Threshold: 50}, clock, nil)

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Allow("c"))
	}
	clock.advance(time.Second)
	// A fresh window: the same burst is fine again.
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Allow("c"))
	}
	require.False(t, b.Tripped())
}

func TestTripIsTerminalAcrossWindows(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := New(Config{Threshold: 2}, clock, nil)

	require.NoError(t, b.Allow("c"))
	require.NoError(t, b.Allow("c"))
	require.ErrorIs(t, b.Allow("c"), ErrTripped)

	clock.advance(time.Minute)
	require.ErrorIs(t, b.Allow("c"), ErrTripped, "no automatic recovery")
}

func TestConcurrentBurstTripsOnce(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	var trips atomic.Int64
	b := New(Config{Threshold: 10}, clock, func(string, string) { trips.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Allow("c")
		}()
	}
	wg.Wait()

	require.True(t, b.Tripped())
	require.Equal(t, int64(1), trips.Load())
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := New(Config{}, clock, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Allow("c"))
	}
	require.ErrorIs(t, b.Allow("c"), ErrTripped)
}
