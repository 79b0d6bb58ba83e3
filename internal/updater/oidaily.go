package updater

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
	"github.com/Va3elina/moex-aggregator/pkg/moexiss"
)

// issHistoryStart is the first date the ISS open positions endpoint has data for.
var issHistoryStart = time.Date(2022, 6, 24, 0, 0, 0, 0, time.UTC)

// OpenPositionsFetcher is the slice of the ISS client daily OI needs.
type OpenPositionsFetcher interface {
	OpenPositions(ctx context.Context, issCode string, date time.Time) ([]moexiss.OpenPositionRecord, error)
}

// OIDaily ingests end-of-day open interest from the free ISS endpoint
// for every instrument carrying an ISS code. Daily rows are insert-only.
type OIDaily struct {
	fetcher     OpenPositionsFetcher
	oi          model.OpenInterestModel
	instruments model.InstrumentsModel
	now         func() time.Time
}

func NewOIDaily(fetcher OpenPositionsFetcher, oi model.OpenInterestModel, instruments model.InstrumentsModel) *OIDaily {
	return &OIDaily{
		fetcher:     fetcher,
		oi:          oi,
		instruments: instruments,
		now:         calendar.MoscowNow,
	}
}

// UpdateOnce walks every instrument from the day after its watermark up
// to yesterday, trading days only.
func (u *OIDaily) UpdateOnce(ctx context.Context) (Result, error) {
	instruments, err := u.instruments.FindWithIssCode(ctx)
	if err != nil {
		return Result{}, err
	}
	logx.WithContext(ctx).Infof("oi daily: %d instruments", len(instruments))

	now := u.now()
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)

	var total Result
	for _, instr := range instruments {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := u.updateInstrument(ctx, instr, yesterday)
		if err != nil {
			logx.WithContext(ctx).Errorf("oi daily %s: %v", instr.SecType, err)
			total.Failed++
			continue
		}
		total.add(res)
	}
	return total, nil
}

func (u *OIDaily) updateInstrument(ctx context.Context, instr model.Instrument, till time.Time) (Result, error) {
	last, ok, err := u.oi.LastDate(ctx, instr.SecType, model.OIIntervalDaily)
	if err != nil {
		return Result{}, err
	}
	start := issHistoryStart
	if ok {
		start = last.AddDate(0, 0, 1)
	}
	if start.After(till) {
		return Result{}, nil
	}

	dates := calendar.TradingDates(start, till)

	var total Result
	for _, day := range dates {
		records, err := u.fetcher.OpenPositions(ctx, instr.IssCode.String, day)
		if err != nil {
			return total, err
		}
		if len(records) == 0 {
			continue
		}
		rows := make([]model.OpenInterest, 0, len(records))
		for _, rec := range records {
			rows = append(rows, dailyRow(instr.SecType, day, rec))
		}
		attempted, inserted, err := u.oi.InsertDerived(ctx, rows)
		if err != nil {
			return total, err
		}
		total.add(Result{Attempted: attempted, Inserted: inserted})
	}
	return total, nil
}

// dailyRow maps an ISS open positions record to storage. ISS reports
// shorts as positive counts; they are stored negated so long and short
// sum to the net exposure, while pos keeps the gross total.
func dailyRow(sectype string, day time.Time, rec moexiss.OpenPositionRecord) model.OpenInterest {
	clgroup := algopack.GroupLegalEntities
	if rec.IsFiz {
		clgroup = algopack.GroupIndividuals
	}
	short := rec.PosShort
	if short < 0 {
		short = -short
	}
	return model.OpenInterest{
		SecType:     sectype,
		TradeDate:   day,
		TradeTime:   "00:00:00",
		ClGroup:     clgroup,
		Interval:    model.OIIntervalDaily,
		Pos:         rec.PosLong + short,
		PosLong:     rec.PosLong,
		PosShort:    -short,
		PosLongNum:  rec.PersonsLong,
		PosShortNum: rec.PersonsShort,
	}
}

// staleInstruments returns instrument families whose daily OI is
// missing or more than 3 days behind, sampled to the first 20.
func (u *OIDaily) staleInstruments(ctx context.Context) ([]string, error) {
	instruments, err := u.instruments.FindWithIssCode(ctx)
	if err != nil {
		return nil, err
	}
	if len(instruments) > gapSample {
		instruments = instruments[:gapSample]
	}
	now := u.now()
	var stale []string
	for _, instr := range instruments {
		last, ok, err := u.oi.LastDate(ctx, instr.SecType, model.OIIntervalDaily)
		if err != nil {
			continue
		}
		if !ok || now.Sub(last) > oiDailyStaleAge {
			stale = append(stale, instr.SecType)
		}
	}
	return stale, nil
}

// GapCheck logs instruments whose daily OI is more than 3 days behind.
func (u *OIDaily) GapCheck(ctx context.Context) {
	stale, err := u.staleInstruments(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("gap check: %v", err)
		return
	}
	if len(stale) == 0 {
		logx.WithContext(ctx).Info("gap check: no gaps")
		return
	}
	for _, sectype := range stale {
		logx.WithContext(ctx).Errorf("gap check %s: daily OI missing or behind", sectype)
	}
}
