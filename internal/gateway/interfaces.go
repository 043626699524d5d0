package gateway

import (
	"context"
	"time"
)

// MediaExtractor resolves a media URL into downloadable metadata.
// Extraction is slow (the engine may transcode); implementations use a
// minutes-scale timeout, not the usual API budget.
type MediaExtractor interface {
	Extract(ctx context.Context, url string, op OperationType) (MediaMetadata, error)
}

// Searcher finds videos by keyword.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// ChatModel runs one AI chat turn.
type ChatModel interface {
	Chat(ctx context.Context, model, query string) (string, error)
}

// Screenshotter captures a rendered page and returns the public path
// the image is served under.
type Screenshotter interface {
	Capture(ctx context.Context, url string, fullPage bool) (string, error)
}

// ContactForwarder relays a support message to the operator.
type ContactForwarder interface {
	Forward(ctx context.Context, msg ContactMessage) error
}

// Reporter receives per-request outcome events. Implementations must
// not block the request path for long and must never fail it.
type Reporter interface {
	Report(ctx context.Context, outcome RequestOutcome)
}

// Clock abstracts time.Now for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
