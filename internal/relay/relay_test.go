package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apigrove/media-gateway/internal/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Song / Title?.mp3":     "Song___Title__mp3",
		"hello":                 "hello",
		"a b\tc":                "a_b_c",
		"":                      "download",
		`x" ; rm -rf /`:         "x____rm__rf__",
		"Ünïcödé":               "_n_c_d_",
		"Content\r\nInjection:": "Content__Injection_",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestContentKindMapping(t *testing.T) {
	t.Parallel()

	ct, err := KindAudio.ContentType()
	require.NoError(t, err)
	require.Equal(t, "audio/mpeg", ct)

	ct, err = KindVideo.ContentType()
	require.NoError(t, err)
	require.Equal(t, "video/mp4", ct)

	_, err = ContentKind("image").ContentType()
	require.Error(t, err)
}

// flushTrackingWriter records the largest run of bytes accepted
// between flushes, which is the relay's working-set bound.
type flushTrackingWriter struct {
	header       http.Header
	sinceFlush   int
	maxUnflushed int
	total        int
}

func (w *flushTrackingWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *flushTrackingWriter) WriteHeader(int) {}

func (w *flushTrackingWriter) Write(p []byte) (int, error) {
	w.sinceFlush += len(p)
	w.total += len(p)
	if w.sinceFlush > w.maxUnflushed {
		w.maxUnflushed = w.sinceFlush
	}
	return len(p), nil
}

func (w *flushTrackingWriter) Flush() { w.sinceFlush = 0 }

func TestCopyFlushingBoundsBuffering(t *testing.T) {
	t.Parallel()

	const bufSize = 8 << 10
	r := New(Config{BufferSize: bufSize}, nil)

	payload := make([]byte, 10<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	w := &flushTrackingWriter{}
	n, err := r.copyFlushing(w, bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, len(payload), w.total)
	require.LessOrEqual(t, w.maxUnflushed, bufSize,
		"relay must never hold more than one chunk unflushed")
}

func TestServeStreamsWithHeaders(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 1<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer origin.Close()

	rl := New(Config{BufferSize: 32 << 10}, nil)
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.Serve(r.Context(), w, Request{
			OriginURL:     origin.URL,
			Kind:          KindAudio,
			Title:         "Song / Title?.mp3",
			ForceDownload: true,
		})
	}))
	defer front.Close()

	resp, err := http.Get(front.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	require.Equal(t, fmt.Sprint(len(payload)), resp.Header.Get("Content-Length"))

	disposition := resp.Header.Get("Content-Disposition")
	require.True(t, strings.HasPrefix(disposition, "attachment; filename="), disposition)
	name := strings.TrimPrefix(disposition, "attachment; filename=")
	require.True(t, strings.HasSuffix(name, ".mp3"), name)
	for _, r := range strings.TrimSuffix(name, ".mp3") {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		require.True(t, ok, "unsafe character %q in filename %q", r, name)
	}

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, body)
}

func TestServeInlineByDefault(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media"))
	}))
	defer origin.Close()

	rl := New(Config{}, nil)
	rec := httptest.NewRecorder()
	rl.Serve(context.Background(), rec, Request{OriginURL: origin.URL, Kind: KindVideo})

	require.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	require.Equal(t, "media", rec.Body.String())
}

func TestServeOriginErrorAbortsWithoutBody(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer origin.Close()

	rl := New(Config{}, nil)
	rec := httptest.NewRecorder()
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rl.Serve(context.Background(), rec, Request{OriginURL: origin.URL, Kind: KindAudio})
	})
	require.Empty(t, rec.Body.String(), "no structured error body on relay failure")
}

func TestServeUnreachableOriginAborts(t *testing.T) {
	t.Parallel()

	rl := New(Config{DialTimeout: 200 * time.Millisecond}, nil)
	rec := httptest.NewRecorder()
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rl.Serve(context.Background(), rec, Request{
			OriginURL: "http://127.0.0.1:1/never",
			Kind:      KindAudio,
		})
	})
}

func TestServeStopsReadingWhenClientGone(t *testing.T) {
	t.Parallel()

	var originReads atomic.Int64
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 1000; i++ {
			if _, err := w.Write(make([]byte, 1024)); err != nil {
				close(release)
				return
			}
			flusher.Flush()
			originReads.Add(1)
			time.Sleep(time.Millisecond)
		}
	}))
	defer origin.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rl := New(Config{BufferSize: 1024}, nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rl.Serve(ctx, rec, Request{OriginURL: origin.URL, Kind: KindVideo})
	}()

	// Let a few chunks flow, then drop the client.
	require.Eventually(t, func() bool { return originReads.Load() > 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after client disconnect")
	}
}
