// Package chat adapts a conversational AI backend. The backend owns
// model selection and inference; this client posts one turn and
// returns the text answer.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config controls the chat client.
type Config struct {
	// BaseURL is the chat endpoint, e.g. http://llm:8080/v1/chat.
	BaseURL string
	// Timeout bounds one turn end to end. Defaults to 2 minutes.
	Timeout time.Duration
	// DefaultModel is used when the caller does not name one.
	DefaultModel string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
}

// Client implements gateway.ChatModel over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("chat base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model string `json:"model"`
	Query string `json:"query"`
}

type chatResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Chat sends one query and returns the backend's text result. An empty
// model falls back to the configured default.
func (c *Client) Chat(ctx context.Context, model, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("chat query is required")
	}
	if model == "" {
		model = c.cfg.DefaultModel
	}

	payload, err := json.Marshal(chatRequest{Model: model, Query: query})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat backend: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response fully read below

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat backend returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("chat backend: %s", parsed.Error)
	}
	if parsed.Result == "" {
		return "", fmt.Errorf("chat backend returned an empty result")
	}
	return parsed.Result, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
