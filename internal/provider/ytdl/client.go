// Package ytdl adapts the external media extraction engine. The engine
// does the real work (resolving, transcoding); this client only speaks
// its HTTP contract. Extraction is slow, so the client carries a
// minutes-scale timeout independent of the gateway's own budgets.
package ytdl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// Config controls the extraction client.
type Config struct {
	// BaseURL is the engine endpoint, e.g. http://extractor:9000.
	BaseURL string
	// Timeout bounds one extraction end to end. Defaults to 5 minutes.
	Timeout time.Duration
	// Engine is the name reported in metadata when the upstream omits
	// one.
	Engine string
}

// Client implements gateway.MediaExtractor over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ytdl base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type extractResponse struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Duration    string `json:"duration"`
	DownloadURL string `json:"download_url"`
	PreviewURL  string `json:"preview_url"`
	Engine      string `json:"engine"`
	Error       string `json:"error"`
}

// Extract asks the engine for downloadable metadata.
func (c *Client) Extract(ctx context.Context, target string, op gateway.OperationType) (gateway.MediaMetadata, error) {
	endpoint := fmt.Sprintf("%s/extract?url=%s&format=%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"),
		url.QueryEscape(target),
		url.QueryEscape(string(op)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gateway.MediaMetadata{}, fmt.Errorf("build extract request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return gateway.MediaMetadata{}, fmt.Errorf("call extraction engine: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response fully read below

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gateway.MediaMetadata{}, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gateway.MediaMetadata{}, fmt.Errorf("extraction engine returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return gateway.MediaMetadata{}, fmt.Errorf("decode extraction response: %w", err)
	}
	if parsed.Error != "" {
		return gateway.MediaMetadata{}, fmt.Errorf("extraction engine: %s", parsed.Error)
	}
	if parsed.DownloadURL == "" {
		return gateway.MediaMetadata{}, fmt.Errorf("extraction engine returned no download url")
	}

	engine := parsed.Engine
	if engine == "" {
		engine = c.cfg.Engine
	}
	return gateway.MediaMetadata{
		Title:       parsed.Title,
		Thumbnail:   parsed.Thumbnail,
		Duration:    parsed.Duration,
		DownloadURL: parsed.DownloadURL,
		PreviewURL:  parsed.PreviewURL,
		Engine:      engine,
	}, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
