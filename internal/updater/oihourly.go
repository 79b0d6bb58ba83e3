package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/model"
)

// HourlyOIAggregate synthesizes hourly open interest rows from the
// minute-55 snapshot of each hour. The hourly row is a copy of that
// snapshot with tradetime HH:00:00, not an average: open interest is a
// level, and the last observation of the hour is the hour's value.
type HourlyOIAggregate struct {
	oi      model.OpenInterestModel
	tickers []string
	now     func() time.Time
}

func NewHourlyOIAggregate(oi model.OpenInterestModel, tickers []string) *HourlyOIAggregate {
	return &HourlyOIAggregate{
		oi:      oi,
		tickers: tickers,
		now:     calendar.MoscowNow,
	}
}

// UpdateOnce fills every missing hour over the whole stored history.
func (u *HourlyOIAggregate) UpdateOnce(ctx context.Context) (Result, error) {
	return u.fillMissing(ctx, 0)
}

// UpdateRecent fills missing hours within the last N days.
func (u *HourlyOIAggregate) UpdateRecent(ctx context.Context, days int) (Result, error) {
	return u.fillMissing(ctx, days)
}

// UpdateLastHour aggregates only the previous clock hour, the cheap
// path the daemon loop runs after each hour closes.
func (u *HourlyOIAggregate) UpdateLastHour(ctx context.Context) (Result, error) {
	prev := u.now().Add(-time.Hour)
	day := time.Date(prev.Year(), prev.Month(), prev.Day(), 0, 0, 0, 0, prev.Location())

	var total Result
	for _, ticker := range u.tickers {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := u.aggregateHour(ctx, ticker, day, prev.Hour())
		if err != nil {
			logx.WithContext(ctx).Errorf("oi hourly %s: %v", ticker, err)
			total.Failed++
			continue
		}
		total.add(res)
	}
	return total, nil
}

func (u *HourlyOIAggregate) fillMissing(ctx context.Context, limitDays int) (Result, error) {
	var total Result
	for i, ticker := range u.tickers {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		missing, err := u.oi.MissingHours(ctx, ticker, limitDays)
		if err != nil {
			return total, fmt.Errorf("missing hours for %s: %w", ticker, err)
		}
		if len(missing) == 0 {
			continue
		}
		logx.WithContext(ctx).Infof("[%d/%d] %s: %d hours to aggregate", i+1, len(u.tickers), ticker, len(missing))
		for _, slot := range missing {
			res, err := u.aggregateHour(ctx, ticker, slot.Date, slot.Hour)
			if err != nil {
				logx.WithContext(ctx).Errorf("oi hourly %s %s %02d: %v", ticker, slot.Date.Format(time.DateOnly), slot.Hour, err)
				total.Failed++
				continue
			}
			total.add(res)
		}
	}
	return total, nil
}

// aggregateHour copies the minute-55 rows of (ticker, date, hour) into
// hourly rows. Position fields carry over unchanged.
func (u *HourlyOIAggregate) aggregateHour(ctx context.Context, ticker string, day time.Time, hour int) (Result, error) {
	source, err := u.oi.FiveMinAtMinute55(ctx, ticker, day, hour)
	if err != nil {
		return Result{}, err
	}
	if len(source) == 0 {
		return Result{}, nil
	}
	rows := make([]model.OpenInterest, 0, len(source))
	for _, row := range source {
		row.TradeTime = fmt.Sprintf("%02d:00:00", hour)
		row.Interval = model.OIIntervalHourly
		rows = append(rows, row)
	}
	attempted, inserted, err := u.oi.InsertDerived(ctx, rows)
	if err != nil {
		return Result{}, err
	}
	return Result{Attempted: attempted, Inserted: inserted}, nil
}
