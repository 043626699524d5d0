package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apigrove/media-gateway/internal/gateway"
)

func TestKeyNormalization(t *testing.T) {
	t.Parallel()

	base := Key("https://example.com/watch?v=abc", gateway.OperationMP3)

	equivalent := []string{
		"HTTPS://EXAMPLE.COM/watch?v=abc",
		"https://example.com:443/watch?v=abc",
		"https://example.com/watch?v=abc#t=10",
		"  https://example.com/watch?v=abc ",
	}
	for _, raw := range equivalent {
		require.Equal(t, base, Key(raw, gateway.OperationMP3), "url %q", raw)
	}

	require.NotEqual(t, base, Key("https://example.com/watch?v=abc", gateway.OperationMP4))
	require.NotEqual(t, base, Key("https://example.com/watch?v=xyz", gateway.OperationMP3))
	require.NotEqual(t, base, Key("http://example.com/watch?v=abc", gateway.OperationMP3))
}

func TestKeyUnparseableURLFallsBack(t *testing.T) {
	t.Parallel()

	require.Equal(t, "::not a url|mp3", Key("::not a url", gateway.OperationMP3))
}

func TestEntryExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := Entry{Value: json.RawMessage(`{}`), StoredAt: now.Add(-time.Hour)}

	require.False(t, e.Expired(0, now), "zero TTL never expires")
	require.False(t, e.Expired(2*time.Hour, now))
	require.True(t, e.Expired(time.Minute, now))
}

func TestEntryRoundTrip(t *testing.T) {
	t.Parallel()

	in := Entry{Value: json.RawMessage(`{"title":"x"}`), StoredAt: time.Unix(100, 0).UTC()}
	data, err := EncodeEntry(in)
	require.NoError(t, err)

	out, err := DecodeEntry(data)
	require.NoError(t, err)
	require.JSONEq(t, string(in.Value), string(out.Value))
	require.True(t, in.StoredAt.Equal(out.StoredAt))
}

func TestGroupCollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	var (
		g       Group
		calls   atomic.Int64
		entered atomic.Int64
	)
	release := make(chan struct{})
	loader := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`{"n":1}`), nil
	}

	const waiters = 8
	results := make([]json.RawMessage, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entered.Add(1)
			v, _, err := g.Do(context.Background(), "same-key", loader)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool {
		return entered.Load() == waiters && calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		require.JSONEq(t, `{"n":1}`, string(v))
	}
}

func TestGroupComputesFreshAfterSettle(t *testing.T) {
	t.Parallel()

	var (
		g     Group
		calls atomic.Int64
	)
	loader := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{}`), nil
	}

	_, _, err := g.Do(context.Background(), "k", loader)
	require.NoError(t, err)
	_, _, err = g.Do(context.Background(), "k", loader)
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
}

func TestGroupPropagatesLoaderError(t *testing.T) {
	t.Parallel()

	var g Group
	boom := errors.New("engine down")
	_, _, err := g.Do(context.Background(), "k", func(ctx context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}
