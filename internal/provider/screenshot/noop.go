package screenshot

import (
	"context"
	"errors"
)

// Noop implements Screenshotter but always returns an error, for
// deployments without a browser binary.
type Noop struct{}

// NewNoop creates a new Noop capturer.
func NewNoop() *Noop {
	return &Noop{}
}

// Capture returns an error since this is a stub implementation.
func (Noop) Capture(_ context.Context, _ string, _ bool) (string, error) {
	return "", errors.New("screenshot capturer not configured")
}
