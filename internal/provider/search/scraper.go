// Package search finds videos by keyword. It scrapes the public
// results page and pulls entries out of the embedded ytInitialData
// JSON island, the same data the page's own scripts render from.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// Config controls the scraper.
type Config struct {
	// BaseURL is the search origin. Defaults to https://www.youtube.com.
	BaseURL string
	// UserAgent identifies the scraper to the origin.
	UserAgent string
	// Timeout bounds one search round trip. Defaults to 20s.
	Timeout time.Duration
	// MaxResults caps the returned list. Defaults to 10.
	MaxResults int
}

// Scraper implements gateway.Searcher with a colly collector.
type Scraper struct {
	cfg Config
}

// New constructs a Scraper.
func New(cfg Config) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.youtube.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Scraper{cfg: cfg}
}

var (
	videoIDPattern   = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{6,})"`)
	titleRunPattern  = regexp.MustCompile(`"title":\{"runs":\[\{"text":"((?:\\.|[^"\\])*)"`)
	durationPattern  = regexp.MustCompile(`"simpleText":"((?:\d+:)?\d+:\d+)"`)
	thumbnailPattern = regexp.MustCompile(`"url":"(https://i\.ytimg\.com/[^"\\]+)"`)
)

// Search fetches the results page for query and extracts video
// entries.
func (s *Scraper) Search(ctx context.Context, query string) ([]gateway.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is required")
	}

	target := fmt.Sprintf("%s/results?search_query=%s",
		strings.TrimSuffix(s.cfg.BaseURL, "/"),
		url.QueryEscape(query),
	)

	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(s.cfg.Timeout)
	if s.cfg.UserAgent != "" {
		c.UserAgent = s.cfg.UserAgent
	}

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search canceled: %w", err)
	}
	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("fetch search page: %w", err)
	}
	c.Wait()

	results := parseResults(body, s.cfg.BaseURL, s.cfg.MaxResults)
	if len(results) == 0 {
		return nil, fmt.Errorf("no results parsed for query %q", query)
	}
	return results, nil
}

// parseResults walks the videoRenderer blocks in the page source. The
// page layout shifts often; each field is best-effort except the video
// ID, without which an entry is skipped.
func parseResults(body []byte, baseURL string, max int) []gateway.SearchResult {
	chunks := strings.Split(string(body), `"videoRenderer":{`)
	if len(chunks) < 2 {
		return nil
	}

	seen := make(map[string]bool)
	var results []gateway.SearchResult
	for _, chunk := range chunks[1:] {
		if len(results) >= max {
			break
		}
		idMatch := videoIDPattern.FindStringSubmatch(chunk)
		if idMatch == nil || seen[idMatch[1]] {
			continue
		}
		id := idMatch[1]
		seen[id] = true

		result := gateway.SearchResult{
			VideoID: id,
			URL:     strings.TrimSuffix(baseURL, "/") + "/watch?v=" + id,
		}
		if m := titleRunPattern.FindStringSubmatch(chunk); m != nil {
			result.Title = unescapeJSON(m[1])
		}
		if m := durationPattern.FindStringSubmatch(chunk); m != nil {
			result.Duration = m[1]
		}
		if m := thumbnailPattern.FindStringSubmatch(chunk); m != nil {
			result.Thumbnail = unescapeJSON(m[1])
		}
		results = append(results, result)
	}
	return results
}

func unescapeJSON(raw string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &out); err != nil {
		return raw
	}
	return out
}
