// Package moexiss wraps the public (unauthenticated) MOEX ISS statistics API
// used for daily futures open positions. Single-day granularity only.
package moexiss

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
)

const (
	defaultBaseURL     = "https://iss.moex.com/iss"
	defaultHTTPTimeout = 30 * time.Second
)

// ErrNotFound signals an unknown instrument code.
var ErrNotFound = errors.New("moexiss: not found")

// StatusError carries an unexpected non-200 status, treated as transient.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("moexiss: http status %d", e.Code)
}

// OpenPositionRecord is one daily open-position row for a client group.
// Shorts come back positive from the endpoint; the caller owns the
// sign convention for storage.
type OpenPositionRecord struct {
	IsFiz        bool
	PosLong      int64
	PosShort     int64
	PersonsLong  int64
	PersonsShort int64
}

// Stats holds running request counters.
type Stats struct {
	Requests int64
	Success  int64
	Errors   int64
	Empty    int64
}

// Client queries the ISS openpositions statistics endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger

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

// WithBaseURL overrides the default ISS root.
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

// NewClient constructs an ISS client. No credentials are required.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     log.Default(),
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

type table struct {
	Columns []string            `json:"columns"`
	Data    [][]json.RawMessage `json:"data"`
}

type openPositionsResponse struct {
	OpenPositions table `json:"open_positions"`
}

// OpenPositions fetches the daily open-position rows for issCode on date.
// An empty payload yields (nil, nil).
func (c *Client) OpenPositions(ctx context.Context, issCode string, date time.Time) ([]OpenPositionRecord, error) {
	u := fmt.Sprintf("%s/statistics/engines/futures/markets/forts/openpositions/%s.json", c.baseURL, issCode)
	query := url.Values{"date": {date.Format("2006-01-02")}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("moexiss: build request: %w", err)
	}

	c.requests.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.errs.Add(1)
		return nil, fmt.Errorf("moexiss: request %s: %w", issCode, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.empty.Add(1)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		c.errs.Add(1)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errs.Add(1)
		return nil, fmt.Errorf("moexiss: read response: %w", err)
	}

	var payload openPositionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		c.errs.Add(1)
		return nil, fmt.Errorf("moexiss: decode response: %w", err)
	}

	rows := payload.OpenPositions.Data
	if len(rows) == 0 {
		c.empty.Add(1)
		return nil, nil
	}

	idx := make(map[string]int, len(payload.OpenPositions.Columns))
	for i, col := range payload.OpenPositions.Columns {
		idx[col] = i
	}

	out := make([]OpenPositionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, OpenPositionRecord{
			IsFiz:        cellInt64(cell(idx, row, "is_fiz")) == 1,
			PosLong:      cellInt64(cell(idx, row, "open_position_long")),
			PosShort:     cellInt64(cell(idx, row, "open_position_short")),
			PersonsLong:  cellInt64(cell(idx, row, "persons_long")),
			PersonsShort: cellInt64(cell(idx, row, "persons_short")),
		})
	}

	c.success.Add(1)
	return out, nil
}

func cell(idx map[string]int, row []json.RawMessage, column string) json.RawMessage {
	i, ok := idx[column]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}

// cellInt64 coerces null and malformed cells to zero; position counts must
// never propagate as nulls.
func cellInt64(raw json.RawMessage) int64 {
	if raw == nil || string(raw) == "null" {
		return 0
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		if f, ferr := n.Float64(); ferr == nil {
			return int64(f)
		}
		return 0
	}
	return v
}
