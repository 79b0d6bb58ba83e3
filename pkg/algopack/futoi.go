package algopack

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

type futoiResponse struct {
	Futoi table `json:"futoi"`
}

// Futoi fetches 5-minute open-interest snapshots for ticker in [from, till].
// With latest set, only the most recent snapshot of the day is returned.
// Unknown tickers yield an empty result, not an error.
func (c *Client) Futoi(ctx context.Context, ticker string, from, till time.Time, latest bool) ([]FutoiRecord, error) {
	ticker = trimSecID(ticker)
	path := fmt.Sprintf("/analyticalproducts/futoi/securities/%s.json", ticker)

	query := url.Values{
		"from": {formatDate(from)},
		"till": {formatDate(till)},
	}
	if latest {
		query.Set("latest", "1")
	}

	var payload futoiResponse
	if err := c.getJSON(ctx, path, query, &payload); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.empty.Add(1)
			return nil, nil
		}
		return nil, err
	}

	rows := payload.Futoi.Data
	if len(rows) == 0 {
		c.empty.Add(1)
		return nil, nil
	}

	idx := payload.Futoi.index()
	out := make([]FutoiRecord, 0, len(rows))
	for _, row := range rows {
		tradeDate, err := cellTime(payload.Futoi.cell(idx, row, "tradedate"), "2006-01-02")
		if err != nil {
			c.errs.Add(1)
			return nil, fmt.Errorf("algopack: futoi tradedate for %s: %w", ticker, err)
		}
		rec := FutoiRecord{
			Ticker:      cellString(payload.Futoi.cell(idx, row, "ticker")),
			TradeDate:   tradeDate,
			TradeTime:   cellString(payload.Futoi.cell(idx, row, "tradetime")),
			ClGroup:     cellString(payload.Futoi.cell(idx, row, "clgroup")),
			Pos:         cellInt64(payload.Futoi.cell(idx, row, "pos")),
			PosLong:     cellInt64(payload.Futoi.cell(idx, row, "pos_long")),
			PosShort:    cellInt64(payload.Futoi.cell(idx, row, "pos_short")),
			PosLongNum:  cellInt64(payload.Futoi.cell(idx, row, "pos_long_num")),
			PosShortNum: cellInt64(payload.Futoi.cell(idx, row, "pos_short_num")),
		}
		if rec.Ticker == "" {
			rec.Ticker = ticker
		}
		if systime, err := cellTime(payload.Futoi.cell(idx, row, "systime"), issTimeLayout); err == nil {
			rec.SysTime = systime
		}
		out = append(out, rec)
	}

	c.success.Add(1)
	return out, nil
}
