// Package gateway defines the core types and collaborator interfaces
// shared across the media gateway service.
package gateway

import "time"

// OperationType identifies a cacheable media operation.
type OperationType string

// Supported media operations.
const (
	OperationMP3 OperationType = "mp3"
	OperationMP4 OperationType = "mp4"
)

// MediaMetadata is the extraction engine's answer for one media URL.
type MediaMetadata struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Duration    string `json:"duration"`
	DownloadURL string `json:"download_url"`
	PreviewURL  string `json:"preview_url"`
	Engine      string `json:"engine"`
}

// SearchResult is one entry from a keyword search.
type SearchResult struct {
	Title     string `json:"title"`
	VideoID   string `json:"video_id"`
	URL       string `json:"url"`
	Duration  string `json:"duration,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ContactMessage is a support message forwarded to the operator.
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// RequestOutcome describes how one request ended. It is emitted to the
// monitor after the response is committed and is never persisted here.
type RequestOutcome struct {
	Route   string
	Success bool
	// Client is the caller's identity, already partially redacted.
	Client string
	Detail string
	At     time.Time
}
