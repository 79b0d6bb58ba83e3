package updater

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

const (
	oiWorkers          = 10
	oiBootstrap        = 7 * 24 * time.Hour
	oiRefetchOverlap   = 24 * time.Hour
	oiDailyStaleAge    = 3 * 24 * time.Hour
	oiIntradayStaleAge = 2 * time.Hour
)

// FutoiFetcher is the slice of the exchange client OI ingestion needs.
type FutoiFetcher interface {
	Futoi(ctx context.Context, ticker string, from, till time.Time, latest bool) ([]algopack.FutoiRecord, error)
}

// OIFiveMin ingests 5-minute open interest snapshots for a fixed ticker
// universe. Rows are overwrite-upserted: the exchange republishes
// corrected snapshots and the newest version wins.
type OIFiveMin struct {
	fetcher FutoiFetcher
	oi      model.OpenInterestModel
	tickers []string
	now     func() time.Time
}

func NewOIFiveMin(fetcher FutoiFetcher, oi model.OpenInterestModel, tickers []string) *OIFiveMin {
	return &OIFiveMin{
		fetcher: fetcher,
		oi:      oi,
		tickers: tickers,
		now:     calendar.MoscowNow,
	}
}

// UpdateOnce catches every ticker up from its watermark, refetching one
// extra day so late corrections get applied.
func (u *OIFiveMin) UpdateOnce(ctx context.Context) (Result, error) {
	till := u.now()
	return u.forEachTicker(ctx, func(ctx context.Context, ticker string) (Result, error) {
		last, ok, err := u.oi.LastDateTime(ctx, ticker, model.OIIntervalFiveMin)
		if err != nil {
			return Result{}, err
		}
		from := till.Add(-oiBootstrap)
		if ok {
			from = last.Add(-oiRefetchOverlap)
		}
		records, err := u.fetcher.Futoi(ctx, ticker, from, till, false)
		if err != nil {
			return Result{}, err
		}
		return u.store(ctx, records)
	})
}

// UpdateLatest fetches only the most recent snapshot per ticker, the
// cheap path the daemon loop runs every 5-minute slot.
func (u *OIFiveMin) UpdateLatest(ctx context.Context) (Result, error) {
	today := u.now()
	return u.forEachTicker(ctx, func(ctx context.Context, ticker string) (Result, error) {
		records, err := u.fetcher.Futoi(ctx, ticker, today, today, true)
		if err != nil {
			return Result{}, err
		}
		return u.store(ctx, records)
	})
}

func (u *OIFiveMin) forEachTicker(ctx context.Context, fn func(context.Context, string) (Result, error)) (Result, error) {
	var mu sync.Mutex
	var total Result

	mr.ForEach(func(source chan<- string) {
		for _, t := range u.tickers {
			source <- t
		}
	}, func(ticker string) {
		res, err := fn(ctx, ticker)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			logx.WithContext(ctx).Errorf("oi 5min %s: %v", ticker, err)
			total.Failed++
			return
		}
		total.add(res)
	}, mr.WithContext(ctx), mr.WithWorkers(oiWorkers))

	return total, ctx.Err()
}

func (u *OIFiveMin) store(ctx context.Context, records []algopack.FutoiRecord) (Result, error) {
	if len(records) == 0 {
		return Result{}, nil
	}
	rows := make([]model.OpenInterest, 0, len(records))
	for _, rec := range records {
		rows = append(rows, oiRowFromFutoi(rec))
	}
	attempted, inserted, err := u.oi.UpsertFiveMin(ctx, rows)
	if err != nil {
		return Result{}, err
	}
	return Result{Attempted: attempted, Inserted: inserted}, nil
}

func oiRowFromFutoi(rec algopack.FutoiRecord) model.OpenInterest {
	row := model.OpenInterest{
		SecType:     rec.Ticker,
		TradeDate:   rec.TradeDate,
		TradeTime:   rec.TradeTime,
		ClGroup:     rec.ClGroup,
		Interval:    model.OIIntervalFiveMin,
		Pos:         rec.Pos,
		PosLong:     rec.PosLong,
		PosShort:    rec.PosShort,
		PosLongNum:  rec.PosLongNum,
		PosShortNum: rec.PosShortNum,
	}
	if !rec.SysTime.IsZero() {
		row.SysTime.Valid = true
		row.SysTime.Time = rec.SysTime
	}
	return row
}

// staleTickers returns tickers whose newest 5-minute row is missing or
// older than the intraday threshold, sampled to the first 20.
func (u *OIFiveMin) staleTickers(ctx context.Context) []string {
	now := u.now()
	tickers := u.tickers
	if len(tickers) > gapSample {
		tickers = tickers[:gapSample]
	}
	var stale []string
	for _, ticker := range tickers {
		last, ok, err := u.oi.LastDateTime(ctx, ticker, model.OIIntervalFiveMin)
		if err != nil {
			continue
		}
		if !ok || now.Sub(last) > oiIntradayStaleAge {
			stale = append(stale, ticker)
		}
	}
	return stale
}

// GapCheck logs tickers whose 5-minute OI looks stale.
func (u *OIFiveMin) GapCheck(ctx context.Context) {
	stale := u.staleTickers(ctx)
	if len(stale) == 0 {
		logx.WithContext(ctx).Info("gap check: no gaps")
		return
	}
	for _, ticker := range stale {
		logx.WithContext(ctx).Errorf("gap check %s: 5-minute OI missing or stale", ticker)
	}
}
