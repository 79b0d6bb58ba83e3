package algopack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const issTimeLayout = "2006-01-02 15:04:05"

type candlesResponse struct {
	Candles table `json:"candles"`
}

// Candles fetches OHLCV rows for secid in [from, till], following the ISS
// offset pagination until a short page signals end-of-data. The column schema
// is taken from the first non-empty page.
func (c *Client) Candles(ctx context.Context, market Market, secid string, interval int, from, till time.Time) ([]Candle, error) {
	secid = trimSecID(secid)
	path := fmt.Sprintf("%s/%s/candles.json", market.securitiesPath(), secid)

	var (
		out     []Candle
		columns map[string]int
		start   = 0
	)

	for {
		query := url.Values{
			"interval": {strconv.Itoa(interval)},
			"from":     {formatDate(from)},
			"till":     {formatDate(till)},
			"start":    {strconv.Itoa(start)},
		}

		var page candlesResponse
		if err := c.getJSON(ctx, path, query, &page); err != nil {
			return nil, err
		}

		rows := page.Candles.Data
		if len(rows) == 0 {
			if start == 0 {
				c.empty.Add(1)
				return nil, nil
			}
			break
		}
		if columns == nil {
			columns = page.Candles.index()
		}

		for _, row := range rows {
			candle, err := c.candleFromRow(page.Candles, columns, row, secid, interval)
			if err != nil {
				c.errs.Add(1)
				return nil, err
			}
			out = append(out, candle)
		}

		if len(rows) < c.pageLimit {
			break
		}
		start += len(rows)
	}

	c.success.Add(1)
	return out, nil
}

// ProbeCandles reports whether secid produced any daily candles over the last
// lookback days. Used by contract resolution; upstream errors read as
// "no data" so a transient failure never selects the wrong contract.
func (c *Client) ProbeCandles(ctx context.Context, market Market, secid string, lookback time.Duration, now time.Time) (bool, int, error) {
	from := now.Add(-lookback)
	rows, err := c.Candles(ctx, market, secid, 24, from, now)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return false, 0, err
		}
		return false, 0, nil
	}
	return len(rows) > 0, len(rows), nil
}

func (c *Client) candleFromRow(t table, idx map[string]int, row []json.RawMessage, secid string, interval int) (Candle, error) {
	begin, err := cellTime(t.cell(idx, row, "begin"), issTimeLayout)
	if err != nil {
		return Candle{}, fmt.Errorf("algopack: candle begin for %s: %w", secid, err)
	}
	end, err := cellTime(t.cell(idx, row, "end"), issTimeLayout)
	if err != nil {
		return Candle{}, fmt.Errorf("algopack: candle end for %s: %w", secid, err)
	}
	return Candle{
		SecID:    secid,
		Interval: interval,
		Begin:    begin,
		End:      end,
		Open:     cellDecimal(t.cell(idx, row, "open")),
		Close:    cellDecimal(t.cell(idx, row, "close")),
		High:     cellDecimal(t.cell(idx, row, "high")),
		Low:      cellDecimal(t.cell(idx, row, "low")),
		Value:    cellDecimal(t.cell(idx, row, "value")),
		Volume:   cellDecimal(t.cell(idx, row, "volume")),
	}, nil
}
