package updater

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"

	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/internal/resolver"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

const (
	fetchWorkers = 20

	bootstrapFiveMin = 7 * 24 * time.Hour
	bootstrapHourly  = 30 * 24 * time.Hour
	bootstrapDaily   = 365 * 24 * time.Hour
)

// CandleFetcher is the slice of the exchange client candle ingestion needs.
type CandleFetcher interface {
	Candles(ctx context.Context, market algopack.Market, secid string, interval int, from, till time.Time) ([]algopack.Candle, error)
}

// fanOut runs one instrument handler across the worker pool. A failed
// instrument contributes nothing and never aborts the batch.
func fanOut(ctx context.Context, contracts []resolver.Contract, fn func(context.Context, resolver.Contract) (Result, error)) Result {
	var mu sync.Mutex
	var total Result

	mr.ForEach(func(source chan<- resolver.Contract) {
		for _, c := range contracts {
			source <- c
		}
	}, func(c resolver.Contract) {
		res, err := fn(ctx, c)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			logx.WithContext(ctx).Errorf("candles %s: %v", c.SecID, err)
			total.Failed++
			return
		}
		total.add(res)
	}, mr.WithContext(ctx), mr.WithWorkers(fetchWorkers))

	return total
}

// fetchFrom starts at midnight of the watermark day so the fetch
// overlaps the stored tail; conflict handling deduplicates the overlap.
func fetchFrom(now func() time.Time, last time.Time, ok bool, bootstrap time.Duration) time.Time {
	if !ok {
		return now().Add(-bootstrap)
	}
	return time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location())
}

// afterWatermark keeps candles strictly newer than the stored tail.
func afterWatermark(bars []algopack.Candle, last time.Time) []algopack.Candle {
	out := bars[:0]
	for _, b := range bars {
		if b.Begin.After(last) {
			out = append(out, b)
		}
	}
	return out
}

func insertCandles(ctx context.Context, m model.CandlesModel, bars []algopack.Candle, familyCode, class string) (Result, error) {
	if len(bars) == 0 {
		return Result{}, nil
	}
	rows := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, model.Candle{
			SecID:      b.SecID,
			BeginTime:  b.Begin,
			EndTime:    b.End,
			Interval:   int64(b.Interval),
			Type:       class,
			Open:       b.Open,
			Close:      b.Close,
			High:       b.High,
			Low:        b.Low,
			Value:      b.Value,
			Volume:     b.Volume,
			FamilyCode: familyCode,
		})
	}
	attempted, inserted, err := m.InsertBatch(ctx, rows)
	if err != nil {
		return Result{}, err
	}
	return Result{Attempted: attempted, Inserted: inserted}, nil
}

const (
	gapSample        = 20
	intradayStaleAge = 2 * time.Hour
)

// staleCandles returns instruments whose 5-minute series is missing or
// older than the intraday threshold, sampled to the first 20.
func staleCandles(ctx context.Context, candles model.CandlesModel, contracts []resolver.Contract, class string, now time.Time) []string {
	if len(contracts) > gapSample {
		contracts = contracts[:gapSample]
	}
	var stale []string
	for _, c := range contracts {
		last, ok, err := candles.LastBeginTime(ctx, c.SecID, 5, class)
		if err != nil {
			continue
		}
		if !ok || now.Sub(last) > intradayStaleAge {
			stale = append(stale, c.SecID)
		}
	}
	return stale
}

// reportCandleGaps logs the staleness audit result. Advisory only.
func reportCandleGaps(ctx context.Context, candles model.CandlesModel, contracts []resolver.Contract, class string, now time.Time) {
	stale := staleCandles(ctx, candles, contracts, class, now)
	if len(stale) == 0 {
		logx.WithContext(ctx).Info("gap check: no gaps")
		return
	}
	for _, secid := range stale {
		logx.WithContext(ctx).Errorf("gap check %s: 5-minute series missing or stale", secid)
	}
}
