// Package breaker implements the process-wide emergency circuit
// breaker. It counts requests in a fixed one-second window and, once
// the configured threshold is exceeded, trips irreversibly: the
// process stops serving and only an operator restart recovers it.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// ErrTripped is returned by Allow once the breaker has shut down.
var ErrTripped = errors.New("breaker: emergency shutdown active")

// TripFunc is invoked exactly once, on the transition to shutdown,
// with the identity of the client whose request crossed the threshold.
type TripFunc func(client, reason string)

// Config controls breaker behavior.
type Config struct {
	// Threshold is the number of requests allowed per window; the
	// request that exceeds it trips the breaker.
	Threshold int64
	// Window is the counting window. Defaults to one second.
	Window time.Duration
}

// Breaker is the two-state machine: active until tripped, then
// terminally shut down. The counter and flag are the only serialized
// shared state in the gateway.
type Breaker struct {
	threshold int64
	window    time.Duration
	clock     gateway.Clock

	mu          sync.Mutex
	windowStart time.Time
	count       int64
	tripped     bool

	tripOnce sync.Once
	onTrip   TripFunc
}

// New constructs a Breaker. onTrip may be nil.
func New(cfg Config, clock gateway.Clock, onTrip TripFunc) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &Breaker{
		threshold: cfg.Threshold,
		window:    cfg.Window,
		clock:     clock,
		onTrip:    onTrip,
	}
}

// Allow records one inbound request from client. It returns ErrTripped
// if the breaker is (or just became) shut down. The counter resets at
// each window boundary; crossing the threshold within one window is a
// one-way transition.
func (b *Breaker) Allow(client string) error {
	b.mu.Lock()
	if b.tripped {
		b.mu.Unlock()
		return ErrTripped
	}
	now := b.clock.Now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
	}
	b.count++
	if b.count <= b.threshold {
		b.mu.Unlock()
		return nil
	}
	b.tripped = true
	b.mu.Unlock()

	b.tripOnce.Do(func() {
		if b.onTrip != nil {
			b.onTrip(client, "request rate exceeded emergency threshold")
		}
	})
	return ErrTripped
}

// Tripped reports whether the breaker has shut down.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}
