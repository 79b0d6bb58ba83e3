package algopack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var candleColumns = []string{"open", "close", "high", "low", "value", "volume", "begin", "end"}

func candleRow(i int) []any {
	begin := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return []any{
		100.0 + float64(i), 101.0 + float64(i), 102.0 + float64(i), 99.0 + float64(i),
		1000.0, 10.0,
		begin.Format("2006-01-02 15:04:05"),
		begin.Add(time.Minute).Format("2006-01-02 15:04:05"),
	}
}

func pagedCandleServer(t *testing.T, pageSizes []int) (*httptest.Server, *int) {
	t.Helper()
	requests := 0
	total := 0
	offsets := make([]int, len(pageSizes))
	for i, n := range pageSizes {
		offsets[i] = total
		total += n
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))

		var rows [][]any
		for i, offset := range offsets {
			if start == offset {
				for j := 0; j < pageSizes[i]; j++ {
					rows = append(rows, candleRow(offset+j))
				}
				break
			}
		}
		payload := map[string]any{
			"candles": map[string]any{"columns": candleColumns, "data": rows},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	return server, &requests
}

func newTestClient(url string, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(url),
		WithPageInterval(time.Microsecond),
		WithRateLimitRetry(2, time.Millisecond),
	}
	return NewClient("test-token", append(base, opts...)...)
}

func TestCandlesPagination(t *testing.T) {
	server, requests := pagedCandleServer(t, []int{500, 500, 120})
	defer server.Close()

	client := newTestClient(server.URL)
	rows, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1,
		time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1120)
	assert.Equal(t, 3, *requests)
	assert.Equal(t, "SIU5", rows[0].SecID)
	assert.Equal(t, 1, rows[0].Interval)
	assert.True(t, rows[0].Begin.Before(rows[1119].Begin))
	assert.Equal(t, "100", rows[0].Open.String())

	stats := client.Stats()
	assert.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, int64(1), stats.Success)
	assert.Equal(t, int64(0), stats.Errors)
}

func TestCandlesShortFirstPageStopsPagination(t *testing.T) {
	server, requests := pagedCandleServer(t, []int{42})
	defer server.Close()

	client := newTestClient(server.URL)
	rows, err := client.Candles(context.Background(), MarketFutures, "RIZ5", 60,
		time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, rows, 42)
	assert.Equal(t, 1, *requests)
}

func TestCandlesEmptyResult(t *testing.T) {
	server, _ := pagedCandleServer(t, nil)
	defer server.Close()

	client := newTestClient(server.URL)
	rows, err := client.Candles(context.Background(), MarketStock, "SBER", 1,
		time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Equal(t, int64(1), client.Stats().Empty)
}

func TestCandlesUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1, time.Now(), time.Now())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(1), client.Stats().Errors)
}

func TestCandlesRateLimitBoundedRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithRateLimitRetry(2, time.Millisecond))
	_, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1, time.Now(), time.Now())
	require.ErrorIs(t, err, ErrRateLimited)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
}

func TestCandlesRateLimitRecovers(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		payload := map[string]any{
			"candles": map[string]any{"columns": candleColumns, "data": [][]any{candleRow(0)}},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	rows, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, attempts)
}

func TestCandlesTransientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1, time.Now(), time.Now())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestCandlesMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1, time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, int64(1), client.Stats().Errors)
}

func TestProbeCandlesSwallowsTransientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	has, count, err := client.ProbeCandles(context.Background(), MarketFutures, "SiU5", 14*24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.False(t, has)
	assert.Zero(t, count)
}

func TestResetStats(t *testing.T) {
	server, _ := pagedCandleServer(t, []int{1})
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Candles(context.Background(), MarketFutures, "SiU5", 1, time.Now(), time.Now())
	require.NoError(t, err)
	require.NotZero(t, client.Stats().Requests)

	client.ResetStats()
	assert.Equal(t, Stats{}, client.Stats())
}
