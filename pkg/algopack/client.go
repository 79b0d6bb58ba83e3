// Package algopack wraps the MOEX Algopack (apim.moex.com) market-data API:
// ranged candle queries with offset pagination and 5-minute futures
// open-interest snapshots. Requests carry a bearer token; HTTP outcomes are
// classified into auth, rate-limit and transient errors.
package algopack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://apim.moex.com/iss"
	defaultHTTPTimeout = 30 * time.Second
	defaultPageLimit   = 500
	defaultPageEvery   = 50 * time.Millisecond

	defaultRateLimitRetries = 3
	defaultRateLimitBackoff = 60 * time.Second
)

var (
	// ErrUnauthorized signals a rejected bearer token. Never retried: the
	// operator has to rotate credentials.
	ErrUnauthorized = errors.New("algopack: unauthorized")

	// ErrRateLimited signals that the retry budget for HTTP 429 responses was
	// exhausted for the current request.
	ErrRateLimited = errors.New("algopack: rate limited")

	// ErrNotFound signals an unknown instrument.
	ErrNotFound = errors.New("algopack: not found")
)

// StatusError carries a non-200 status that is treated as transient: the next
// scheduled cycle catches up via the watermark delta.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("algopack: http status %d", e.Code)
}

// Stats holds running request counters, reset on demand.
type Stats struct {
	Requests int64
	Success  int64
	Errors   int64
	Empty    int64
}

// Client wraps access to the Algopack endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
	pageLimit  int
	pacer      *rate.Limiter

	rateLimitRetries int
	rateLimitBackoff time.Duration

	requests atomic.Int64
	success  atomic.Int64
	errs     atomic.Int64
	empty    atomic.Int64
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithLogger injects a custom logger (defaults to log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPageLimit overrides the upstream page size used to detect end-of-data.
func WithPageLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// WithPageInterval adjusts the inter-page pacing delay.
func WithPageInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pacer = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRateLimitRetry adjusts the bounded retry policy for HTTP 429 responses.
func WithRateLimitRetry(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.rateLimitRetries = retries
		}
		if backoff > 0 {
			c.rateLimitBackoff = backoff
		}
	}
}

// NewClient constructs an Algopack API client authenticated with token.
func NewClient(token string, opts ...Option) *Client {
	client := &Client{
		baseURL:          defaultBaseURL,
		token:            token,
		httpClient:       &http.Client{Timeout: defaultHTTPTimeout},
		logger:           log.Default(),
		pageLimit:        defaultPageLimit,
		pacer:            rate.NewLimiter(rate.Every(defaultPageEvery), 1),
		rateLimitRetries: defaultRateLimitRetries,
		rateLimitBackoff: defaultRateLimitBackoff,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Stats returns a snapshot of running counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Success:  c.success.Load(),
		Errors:   c.errs.Load(),
		Empty:    c.empty.Load(),
	}
}

// ResetStats zeroes the running counters.
func (c *Client) ResetStats() {
	c.requests.Store(0)
	c.success.Store(0)
	c.errs.Store(0)
	c.empty.Store(0)
}

// getJSON issues one paced GET and decodes the payload into out. 429 responses
// are retried in place with a fixed backoff up to the configured budget, then
// escalate to ErrRateLimited.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("algopack: build request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		c.requests.Add(1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.errs.Add(1)
			return fmt.Errorf("algopack: request %s: %w", path, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.errs.Add(1)
			return ErrUnauthorized
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= c.rateLimitRetries {
				c.errs.Add(1)
				return fmt.Errorf("algopack: retry budget exhausted for %s: %w", path, ErrRateLimited)
			}
			c.logger.Printf("[algopack] 429 on %s, backing off %s (attempt %d/%d)",
				path, c.rateLimitBackoff, attempt+1, c.rateLimitRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.rateLimitBackoff):
			}
			continue
		case resp.StatusCode != http.StatusOK:
			c.errs.Add(1)
			return &StatusError{Code: resp.StatusCode}
		}

		if readErr != nil {
			c.errs.Add(1)
			return fmt.Errorf("algopack: read response: %w", readErr)
		}
		if err := json.Unmarshal(body, out); err != nil {
			c.errs.Add(1)
			return fmt.Errorf("algopack: decode response: %w", err)
		}
		return nil
	}
}
