// Package mail forwards support messages to a webhook endpoint.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// Config controls the webhook client.
type Config struct {
	// WebhookURL receives the forwarded message as JSON.
	WebhookURL string
	// Timeout bounds one delivery. Defaults to 15 seconds.
	Timeout time.Duration
}

// Client implements gateway.ContactForwarder over an HTTP webhook.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, fmt.Errorf("contact webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Forward validates and delivers one message.
func (c *Client) Forward(ctx context.Context, msg gateway.ContactMessage) error {
	if err := validate(msg); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode contact message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver contact message: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body drained below
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("contact webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func validate(msg gateway.ContactMessage) error {
	if strings.TrimSpace(msg.Name) == "" {
		return fmt.Errorf("contact name is required")
	}
	if _, err := mail.ParseAddress(msg.Email); err != nil {
		return fmt.Errorf("invalid contact email: %w", err)
	}
	if strings.TrimSpace(msg.Message) == "" {
		return fmt.Errorf("contact message is required")
	}
	return nil
}
