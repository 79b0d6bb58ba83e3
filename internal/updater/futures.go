package updater

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/aggregate"
	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/internal/resolver"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

// ContractSource yields the currently active futures contracts.
type ContractSource interface {
	ActiveContracts(ctx context.Context) ([]resolver.Contract, error)
}

// FuturesCandles ingests futures candles at 5-minute, hourly and daily
// granularity. The 5-minute series is built by fetching 1-minute
// candles and folding them, the exchange does not serve 5-minute bars
// directly.
type FuturesCandles struct {
	fetcher   CandleFetcher
	contracts ContractSource
	candles   model.CandlesModel
	now       func() time.Time
}

func NewFuturesCandles(fetcher CandleFetcher, contracts ContractSource, candles model.CandlesModel) *FuturesCandles {
	return &FuturesCandles{
		fetcher:   fetcher,
		contracts: contracts,
		candles:   candles,
		now:       calendar.MoscowNow,
	}
}

// UpdateOnce refreshes all three timeframes for every active contract.
func (u *FuturesCandles) UpdateOnce(ctx context.Context) (Result, error) {
	contracts, err := u.contracts.ActiveContracts(ctx)
	if err != nil {
		return Result{}, err
	}
	logx.WithContext(ctx).Infof("futures candles: %d contracts", len(contracts))

	var total Result
	for _, pass := range []struct {
		name string
		run  func(context.Context, []resolver.Contract) Result
	}{
		{"5m", u.UpdateFiveMin},
		{"60m", u.UpdateHourly},
		{"daily", u.UpdateDaily},
	} {
		res := pass.run(ctx, contracts)
		logx.WithContext(ctx).Infof("futures candles %s: %s", pass.name, res)
		total.add(res)
	}
	return total, nil
}

// UpdateFiveMin fetches 1-minute candles since each contract's
// watermark and stores the 5-minute aggregation.
func (u *FuturesCandles) UpdateFiveMin(ctx context.Context, contracts []resolver.Contract) Result {
	return fanOut(ctx, contracts, func(ctx context.Context, c resolver.Contract) (Result, error) {
		last, ok, err := u.candles.LastBeginTime(ctx, c.SecID, 5, model.ClassFutures)
		if err != nil {
			return Result{}, err
		}
		from := fetchFrom(u.now, last, ok, bootstrapFiveMin)

		minute, err := u.fetcher.Candles(ctx, algopack.MarketFutures, c.SecID, 1, from, u.now())
		if err != nil {
			return Result{}, err
		}
		bars := aggregate.FiveMinute(minute)
		if ok {
			bars = afterWatermark(bars, last)
		}
		return insertCandles(ctx, u.candles, bars, c.FamilyCode, model.ClassFutures)
	})
}

// UpdateHourly fetches hourly candles since each contract's watermark.
func (u *FuturesCandles) UpdateHourly(ctx context.Context, contracts []resolver.Contract) Result {
	return u.updateDirect(ctx, contracts, 60, bootstrapHourly)
}

// UpdateDaily fetches daily candles since each contract's watermark.
func (u *FuturesCandles) UpdateDaily(ctx context.Context, contracts []resolver.Contract) Result {
	return u.updateDirect(ctx, contracts, 24, bootstrapDaily)
}

func (u *FuturesCandles) updateDirect(ctx context.Context, contracts []resolver.Contract, interval int, bootstrap time.Duration) Result {
	return fanOut(ctx, contracts, func(ctx context.Context, c resolver.Contract) (Result, error) {
		last, ok, err := u.candles.LastBeginTime(ctx, c.SecID, int64(interval), model.ClassFutures)
		if err != nil {
			return Result{}, err
		}
		from := fetchFrom(u.now, last, ok, bootstrap)

		bars, err := u.fetcher.Candles(ctx, algopack.MarketFutures, c.SecID, interval, from, u.now())
		if err != nil {
			return Result{}, err
		}
		if ok {
			bars = afterWatermark(bars, last)
		}
		return insertCandles(ctx, u.candles, bars, c.FamilyCode, model.ClassFutures)
	})
}

// Jobs exposes the three timeframes as daemon loop jobs. Contracts are
// re-resolved on every pass so expiries roll over without a restart.
func (u *FuturesCandles) Jobs() []Job {
	pass := func(run func(context.Context, []resolver.Contract) Result) func(context.Context) (Result, error) {
		return func(ctx context.Context) (Result, error) {
			contracts, err := u.contracts.ActiveContracts(ctx)
			if err != nil {
				return Result{}, err
			}
			return run(ctx, contracts), nil
		}
	}
	return []Job{
		{Name: "futures-5m", Slot: 5 * time.Minute, Buffer: 10 * time.Second, Run: pass(u.UpdateFiveMin)},
		{Name: "futures-60m", Slot: time.Hour, Buffer: 15 * time.Second, Run: pass(u.UpdateHourly)},
		{Name: "futures-daily", Slot: 24 * time.Hour, Buffer: time.Minute, Run: pass(u.UpdateDaily)},
	}
}

// GapCheck logs contracts whose 5-minute series looks stale.
func (u *FuturesCandles) GapCheck(ctx context.Context) {
	contracts, err := u.contracts.ActiveContracts(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("gap check: %v", err)
		return
	}
	reportCandleGaps(ctx, u.candles, contracts, model.ClassFutures, u.now())
}
