// Package monitor fans per-request outcome events out to operational
// sinks. The gateway reports every request's fate here; sinks get the
// event after the response is committed and can never fail a request.
package monitor

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// Sink consumes outcome events. Implementations must tolerate
// concurrent Close and in-flight Consume calls.
type Sink interface {
	Consume(ctx context.Context, outcome gateway.RequestOutcome) error
	Close(ctx context.Context) error
}

// Config controls Hub buffering.
type Config struct {
	// BufferSize is the event channel capacity (default 1024). Events
	// beyond a full buffer are dropped and counted, never blocking the
	// request path.
	BufferSize int
	// SinkTimeout bounds each sink call (default 10s).
	SinkTimeout time.Duration
}

// Hub implements gateway.Reporter by queueing events to a background
// goroutine that delivers them to every sink.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan gateway.RequestOutcome
	done    chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64

	closeOnce sync.Once
}

// NewHub starts the delivery goroutine. The hub is immediately ready.
func NewHub(cfg Config, logger *zap.Logger, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  sinks,
		events: make(chan gateway.RequestOutcome, cfg.BufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Report queues one outcome, dropping it if the buffer is full.
func (h *Hub) Report(_ context.Context, outcome gateway.RequestOutcome) {
	select {
	case h.events <- outcome:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops delivery after draining queued events and closes sinks.
func (h *Hub) Close(ctx context.Context) {
	h.closeOnce.Do(func() {
		close(h.events)
		select {
		case <-h.done:
		case <-ctx.Done():
		}
		for _, s := range h.sinks {
			if err := s.Close(ctx); err != nil {
				h.logger.Warn("monitor sink close failed", zap.Error(err))
			}
		}
	})
}

func (h *Hub) run() {
	defer close(h.done)
	for outcome := range h.events {
		for _, s := range h.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
			if err := s.Consume(ctx, outcome); err != nil {
				h.logger.Warn("monitor sink failed",
					zap.String("route", outcome.Route),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// RedactClient partially masks a client address so outcome events do
// not carry full identities off the box. IPv4 keeps the /16, IPv6 the
// first two groups; a port is stripped first.
func RedactClient(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			parts := strings.Split(v4.String(), ".")
			return parts[0] + "." + parts[1] + ".x.x"
		}
		groups := strings.Split(host, ":")
		if len(groups) > 2 {
			return groups[0] + ":" + groups[1] + ":x:x"
		}
	}
	if host == "" {
		return "unknown"
	}
	return host
}
