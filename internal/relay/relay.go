// Package relay forwards a byte stream from an origin URL to the
// client without materializing the payload. Chunks are flushed as they
// arrive, so memory stays bounded and a slow client throttles origin
// consumption through the write path.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/telemetry"
)

// ContentKind selects the outbound media type.
type ContentKind string

// Supported stream kinds.
const (
	KindAudio ContentKind = "audio"
	KindVideo ContentKind = "video"
)

// Request describes one relay operation. It lives for a single client
// connection and is owned by the Serve call that received it.
type Request struct {
	OriginURL     string
	Kind          ContentKind
	Title         string
	ForceDownload bool
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// SanitizeFilename reduces a title to [A-Za-z0-9_] so it is safe to
// embed in a Content-Disposition header.
func SanitizeFilename(title string) string {
	name := unsafeFilenameChars.ReplaceAllString(title, "_")
	if name == "" {
		name = "download"
	}
	return name
}

// ContentType maps a kind to its outbound media type.
func (k ContentKind) ContentType() (string, error) {
	switch k {
	case KindAudio:
		return "audio/mpeg", nil
	case KindVideo:
		return "video/mp4", nil
	default:
		return "", fmt.Errorf("unknown content kind %q", k)
	}
}

func (k ContentKind) extension() string {
	if k == KindAudio {
		return ".mp3"
	}
	return ".mp4"
}

// Config controls Relay behavior.
type Config struct {
	// DialTimeout bounds connection establishment to the origin. The
	// transfer itself has no deadline; large media takes minutes.
	DialTimeout time.Duration
	// HeaderTimeout bounds the wait for the origin's response headers.
	// Defaults to DialTimeout.
	HeaderTimeout time.Duration
	// BufferSize is the copy chunk size. Defaults to 64 KiB.
	BufferSize int
}

// Relay streams origin bodies to clients.
type Relay struct {
	client  *http.Client
	bufSize int
	logger  *zap.Logger
}

// New constructs a Relay.
func New(cfg Config, logger *zap.Logger) *Relay {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = cfg.DialTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 << 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Relay{
		client:  &http.Client{Transport: transport},
		bufSize: cfg.BufferSize,
		logger:  logger,
	}
}

// Serve opens a GET to the origin and forwards the body to w as it
// arrives. If the origin fails at any point, the client connection is
// aborted without a structured body; headers may already be committed.
// The inbound request context cancels the origin read when the client
// disconnects.
func (r *Relay) Serve(ctx context.Context, w http.ResponseWriter, sr Request) {
	contentType, err := sr.Kind.ContentType()
	if err != nil {
		r.abort(sr, fmt.Errorf("validate kind: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sr.OriginURL, nil)
	if err != nil {
		r.abort(sr, fmt.Errorf("build origin request: %w", err))
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.abort(sr, fmt.Errorf("open origin: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // stream already delivered or aborted

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.abort(sr, fmt.Errorf("origin returned status %d", resp.StatusCode))
	}

	w.Header().Set("Content-Type", contentType)
	if resp.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	disposition := "inline"
	if sr.ForceDownload {
		disposition = fmt.Sprintf("attachment; filename=%s%s", SanitizeFilename(sr.Title), sr.Kind.extension())
	}
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)

	n, err := r.copyFlushing(w, resp.Body)
	telemetry.ObserveRelayBytes(string(sr.Kind), n)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug("client disconnected mid-stream",
				zap.String("origin", sr.OriginURL),
				zap.Int64("bytes", n),
			)
			return
		}
		r.abort(sr, fmt.Errorf("mid-stream after %d bytes: %w", n, err))
	}
	r.logger.Debug("relay complete",
		zap.String("origin", sr.OriginURL),
		zap.Int64("bytes", n),
	)
}

// copyFlushing copies in fixed-size chunks, flushing after each write
// so no more than one chunk is ever buffered on our side. The blocking
// Write on a full client socket is what pauses origin consumption.
func (r *Relay) copyFlushing(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, r.bufSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, fmt.Errorf("write to client: %w", writeErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("read from origin: %w", readErr)
		}
	}
}

// abort logs the failure and panics with http.ErrAbortHandler, which
// net/http turns into a dropped connection. The recover middleware
// re-panics this sentinel instead of writing a JSON body.
func (r *Relay) abort(sr Request, err error) {
	r.logger.Warn("relay aborted",
		zap.String("origin", sr.OriginURL),
		zap.String("kind", string(sr.Kind)),
		zap.Error(err),
	)
	panic(http.ErrAbortHandler)
}
