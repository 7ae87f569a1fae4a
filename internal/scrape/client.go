// Package scrape implements the bounded-retry HTTP client for provider
// pages and JSON result documents.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/timing"
)

// PageFetcher fetches one HTML page. Implemented by the colly fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// Page is the raw outcome of one page fetch. Non-2xx responses carry
// their status code so the client can classify them.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Config controls client behavior.
type Config struct {
	// ResultsBaseURL is the provider origin (plus deployment prefix) used
	// for slug-addressed fetches.
	ResultsBaseURL string
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Client fetches provider documents with bounded retries. HTML pages go
// through the page fetcher; JSON documents through the shared http.Client.
type Client struct {
	cfg    Config
	pages  PageFetcher
	http   *http.Client
	policy *RetryPolicy
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, pages PageFetcher, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		pages:  pages,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffMax),
		logger: logger,
	}
}

// EventOverview fetches an event overview page and returns its HTML.
func (c *Client) EventOverview(ctx context.Context, pageURL string) (string, error) {
	body, err := c.getWithRetry(ctx, pageURL, c.fetchPage)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// SessionPage fetches a session page and returns its HTML.
func (c *Client) SessionPage(ctx context.Context, pageURL string) (string, error) {
	body, err := c.getWithRetry(ctx, pageURL, c.fetchPage)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ClubListing fetches a club's events listing page.
func (c *Client) ClubListing(ctx context.Context, pageURL string) (string, error) {
	body, err := c.getWithRetry(ctx, pageURL, c.fetchPage)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchJSON fetches and decodes a JSON document into the target.
func (c *Client) FetchJSON(ctx context.Context, docURL string, into any) error {
	body, err := c.getWithRetry(ctx, docURL, c.fetchJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode %s: %w", docURL, err)
	}
	return nil
}

// FetchRawJSON fetches a JSON document and returns both the decoded
// generic map and the raw bytes (for archival).
func (c *Client) FetchRawJSON(ctx context.Context, docURL string) (map[string]any, []byte, error) {
	body, err := c.getWithRetry(ctx, docURL, c.fetchJSON)
	if err != nil {
		return nil, nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", docURL, err)
	}
	return raw, body, nil
}

// FetchEntryList fetches the entry list document for one event+class.
func (c *Client) FetchEntryList(ctx context.Context, eventSlug, classSlug string) (map[string]any, error) {
	docURL := c.slugURL(eventSlug, classSlug, "entries.json")
	raw, _, err := c.FetchRawJSON(ctx, docURL)
	return raw, err
}

// FetchRaceResult fetches the race result document addressed by slugs.
func (c *Client) FetchRaceResult(ctx context.Context, eventSlug, classSlug, roundSlug, raceSlug string) (map[string]any, error) {
	docURL := c.slugURL(eventSlug, classSlug, roundSlug, raceSlug+".json")
	raw, _, err := c.FetchRawJSON(ctx, docURL)
	return raw, err
}

func (c *Client) slugURL(parts ...string) string {
	base := strings.TrimRight(c.cfg.ResultsBaseURL, "/")
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return base + "/" + strings.Join(escaped, "/")
}

type fetchFunc func(ctx context.Context, url string) (Page, error)

func (c *Client) fetchPage(ctx context.Context, pageURL string) (Page, error) {
	return c.pages.FetchPage(ctx, pageURL)
}

func (c *Client) fetchJSON(ctx context.Context, docURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("get %s: %w", docURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}
	return Page{URL: docURL, StatusCode: resp.StatusCode, Body: body}, nil
}

// getWithRetry runs one fetch with retry classification: 5xx and 429 are
// retried with backoff up to the attempt bound, 404 maps to NOT_FOUND,
// other 4xx are terminal immediately.
func (c *Client) getWithRetry(ctx context.Context, target string, fetch fetchFunc) ([]byte, error) {
	attempts := c.policy.MaxAttempts()
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, c.policy.Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		page, err := fetch(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch %s: %w", target, ctx.Err())
			}
			if !c.policy.RetryableError(err) {
				return nil, &timing.ClientError{Code: timing.ClientErrUnknown, URL: target, Err: err}
			}
			lastErr = err
			c.logger.Warn("fetch attempt failed",
				zap.String("url", target),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		status := page.StatusCode
		if status >= 200 && status < 300 {
			return page.Body, nil
		}

		lastStatus = status
		lastErr = nil
		switch {
		case status == http.StatusNotFound:
			return nil, &timing.ClientError{Code: timing.ClientErrNotFound, Status: status, URL: target}
		case c.policy.RetryableStatus(status):
			if attempts == 1 {
				return nil, &timing.ClientError{Code: timing.ClientErrRetryableStatus, Status: status, URL: target}
			}
			c.logger.Warn("retryable upstream status",
				zap.String("url", target),
				zap.Int("status", status),
				zap.Int("attempt", attempt+1),
			)
			continue
		default:
			return nil, &timing.ClientError{Code: timing.ClientErrUnknown, Status: status, URL: target}
		}
	}

	return nil, &timing.ClientError{
		Code:   timing.ClientErrMaxRetries,
		Status: lastStatus,
		URL:    target,
		Err:    lastErr,
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
