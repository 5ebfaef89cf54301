// Package websearch queries a SearXNG instance and optionally enriches
// results with page content.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/koopa0/sage/internal/log"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxResults = 5

	// maxPageBytes caps how much of a result page is fetched during
	// enrichment.
	maxPageBytes = 2 << 20
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Config configures a Client.
type Config struct {
	// BaseURL of the SearXNG instance, e.g. "http://localhost:8888".
	BaseURL string

	// MaxResults caps how many hits Search returns.
	MaxResults int

	Timeout time.Duration
	Logger  log.Logger
}

// Client talks to one SearXNG instance.
type Client struct {
	baseURL    string
	maxResults int
	httpc      *http.Client
	logger     log.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("websearch: base url is required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxResults: cfg.MaxResults,
		httpc:      &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a query and returns up to MaxResults hits.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("websearch: empty query")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var out searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, min(len(out.Results), c.maxResults))
	for _, r := range out.Results {
		if len(results) == c.maxResults {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	c.logger.Debug("web search completed", "query", query, "results", len(results))
	return results, nil
}

// Enrich fetches a result's page and replaces its snippet with extracted
// body text when the page yields more than the snippet had. Failures leave
// the result untouched.
func (c *Client) Enrich(ctx context.Context, r Result, maxChars int) Result {
	text, err := c.pageText(ctx, r.URL)
	if err != nil {
		c.logger.Debug("page enrichment failed", "url", r.URL, "error", err)
		return r
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	if len(text) > len(r.Snippet) {
		r.Snippet = text
	}
	return r
}

// pageText extracts readable text from an HTML page.
func (c *Client) pageText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()

	var b strings.Builder
	doc.Find("p, h1, h2, h3, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	})
	return b.String(), nil
}
