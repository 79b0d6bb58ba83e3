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

// SpotCandles ingests stock candles. Stocks need no contract
// resolution: the instrument identifier is the tradable ticker and
// doubles as the family code on stored rows.
type SpotCandles struct {
	fetcher     CandleFetcher
	instruments model.InstrumentsModel
	candles     model.CandlesModel
	now         func() time.Time
}

func NewSpotCandles(fetcher CandleFetcher, instruments model.InstrumentsModel, candles model.CandlesModel) *SpotCandles {
	return &SpotCandles{
		fetcher:     fetcher,
		instruments: instruments,
		candles:     candles,
		now:         calendar.MoscowNow,
	}
}

func (u *SpotCandles) stocks(ctx context.Context) ([]resolver.Contract, error) {
	rows, err := u.instruments.FindByClass(ctx, model.ClassStock)
	if err != nil {
		return nil, err
	}
	contracts := make([]resolver.Contract, 0, len(rows))
	for _, row := range rows {
		contracts = append(contracts, resolver.Contract{
			SecID:      row.SecID,
			FamilyCode: row.SecID,
			Name:       row.Name.String,
			SecType:    row.SecType,
		})
	}
	return contracts, nil
}

// UpdateOnce refreshes all three timeframes for every tracked stock.
func (u *SpotCandles) UpdateOnce(ctx context.Context) (Result, error) {
	stocks, err := u.stocks(ctx)
	if err != nil {
		return Result{}, err
	}
	logx.WithContext(ctx).Infof("spot candles: %d stocks", len(stocks))

	var total Result
	for _, pass := range []struct {
		name string
		run  func(context.Context, []resolver.Contract) Result
	}{
		{"5m", u.UpdateFiveMin},
		{"60m", u.UpdateHourly},
		{"daily", u.UpdateDaily},
	} {
		res := pass.run(ctx, stocks)
		logx.WithContext(ctx).Infof("spot candles %s: %s", pass.name, res)
		total.add(res)
	}
	return total, nil
}

func (u *SpotCandles) UpdateFiveMin(ctx context.Context, stocks []resolver.Contract) Result {
	return fanOut(ctx, stocks, func(ctx context.Context, c resolver.Contract) (Result, error) {
		last, ok, err := u.candles.LastBeginTime(ctx, c.SecID, 5, model.ClassStock)
		if err != nil {
			return Result{}, err
		}
		from := fetchFrom(u.now, last, ok, bootstrapFiveMin)

		minute, err := u.fetcher.Candles(ctx, algopack.MarketStock, c.SecID, 1, from, u.now())
		if err != nil {
			return Result{}, err
		}
		bars := aggregate.FiveMinute(minute)
		if ok {
			bars = afterWatermark(bars, last)
		}
		return insertCandles(ctx, u.candles, bars, c.FamilyCode, model.ClassStock)
	})
}

func (u *SpotCandles) UpdateHourly(ctx context.Context, stocks []resolver.Contract) Result {
	return u.updateDirect(ctx, stocks, 60, bootstrapHourly)
}

func (u *SpotCandles) UpdateDaily(ctx context.Context, stocks []resolver.Contract) Result {
	return u.updateDirect(ctx, stocks, 24, bootstrapDaily)
}

func (u *SpotCandles) updateDirect(ctx context.Context, stocks []resolver.Contract, interval int, bootstrap time.Duration) Result {
	return fanOut(ctx, stocks, func(ctx context.Context, c resolver.Contract) (Result, error) {
		last, ok, err := u.candles.LastBeginTime(ctx, c.SecID, int64(interval), model.ClassStock)
		if err != nil {
			return Result{}, err
		}
		from := fetchFrom(u.now, last, ok, bootstrap)

		bars, err := u.fetcher.Candles(ctx, algopack.MarketStock, c.SecID, interval, from, u.now())
		if err != nil {
			return Result{}, err
		}
		if ok {
			bars = afterWatermark(bars, last)
		}
		return insertCandles(ctx, u.candles, bars, c.FamilyCode, model.ClassStock)
	})
}

// Jobs exposes the three timeframes as daemon loop jobs. The stock
// list is re-read on every pass, so instruments added to the database
// are picked up without a restart.
func (u *SpotCandles) Jobs() []Job {
	pass := func(run func(context.Context, []resolver.Contract) Result) func(context.Context) (Result, error) {
		return func(ctx context.Context) (Result, error) {
			stocks, err := u.stocks(ctx)
			if err != nil {
				return Result{}, err
			}
			return run(ctx, stocks), nil
		}
	}
	return []Job{
		{Name: "spot-5m", Slot: 5 * time.Minute, Buffer: 10 * time.Second, Run: pass(u.UpdateFiveMin)},
		{Name: "spot-60m", Slot: time.Hour, Buffer: 15 * time.Second, Run: pass(u.UpdateHourly)},
		{Name: "spot-daily", Slot: 24 * time.Hour, Buffer: time.Minute, Run: pass(u.UpdateDaily)},
	}
}

// GapCheck logs stocks whose 5-minute series looks stale.
func (u *SpotCandles) GapCheck(ctx context.Context) {
	stocks, err := u.stocks(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("gap check: %v", err)
		return
	}
	reportCandleGaps(ctx, u.candles, stocks, model.ClassStock, u.now())
}
