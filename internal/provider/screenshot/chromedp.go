// Package screenshot renders web pages to PNG via headless Chrome.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// Config controls the capture behavior.
type Config struct {
	// Dir is the directory captured images are written to. It is
	// created on construction if missing.
	Dir string
	// PublicPrefix is the URL path the directory is served under,
	// e.g. /captures.
	PublicPrefix string
	// MaxParallel bounds concurrent browser tabs. Zero means unbounded.
	MaxParallel int
	// UserAgent overrides the browser user agent when set.
	UserAgent string
	// NavigationTimeout bounds one capture end to end.
	NavigationTimeout time.Duration
	// ViewportWidth and ViewportHeight size the emulated screen.
	ViewportWidth  int64
	ViewportHeight int64
	// Quality is the JPEG quality used for full-page shots.
	Quality int
}

// Capturer implements gateway.Screenshotter using chromedp.
type Capturer struct {
	cfg         Config
	ids         gateway.IDGenerator
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Capturer with a shared browser allocator. Individual
// captures get their own tab and timeout.
func New(cfg Config, ids gateway.IDGenerator) (*Capturer, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("capture directory is required")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = "/captures"
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 720
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{
		cfg:         cfg,
		ids:         ids,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (c *Capturer) Close() {
	c.allocCancel()
}

// Capture renders the page and writes it under the capture directory.
// It returns the public URL path of the written image.
func (c *Capturer) Capture(ctx context.Context, target string, fullPage bool) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.navTimeout())
	defer cancel()

	var buf []byte
	actions := []chromedp.Action{
		c.viewportAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if fullPage {
		actions = append(actions, chromedp.FullScreenshot(&buf, c.cfg.Quality))
	} else {
		actions = append(actions, chromedp.CaptureScreenshot(&buf))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}

	id, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("capture id: %w", err)
	}
	name := id + ".png"
	if err := os.WriteFile(filepath.Join(c.cfg.Dir, name), buf, 0o644); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return path.Join(c.cfg.PublicPrefix, name), nil
}

func (c *Capturer) viewportAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetDeviceMetricsOverride(c.cfg.ViewportWidth, c.cfg.ViewportHeight, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func (c *Capturer) navTimeout() time.Duration {
	if c.cfg.NavigationTimeout > 0 {
		return c.cfg.NavigationTimeout
	}
	return 45 * time.Second
}
