package updater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/internal/resolver"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
	"github.com/Va3elina/moex-aggregator/pkg/moexiss"
)

// testNow is a trading Tuesday afternoon.
var testNow = time.Date(2025, 6, 3, 14, 7, 30, 0, time.UTC)

type staticContracts []resolver.Contract

func (s staticContracts) ActiveContracts(context.Context) ([]resolver.Contract, error) {
	return s, nil
}

// fetchCall records one Candles request.
type fetchCall struct {
	secid    string
	interval int
	from     time.Time
	till     time.Time
}

type fakeCandleFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	candles map[string][]algopack.Candle // keyed by secid/interval
	errs    map[string]error             // keyed by secid
}

func fetchKey(secid string, interval int) string {
	return fmt.Sprintf("%s/%d", secid, interval)
}

func (f *fakeCandleFetcher) Candles(_ context.Context, _ algopack.Market, secid string, interval int, from, till time.Time) ([]algopack.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{secid: secid, interval: interval, from: from, till: till})
	if err := f.errs[secid]; err != nil {
		return nil, err
	}
	return f.candles[fetchKey(secid, interval)], nil
}

func (f *fakeCandleFetcher) callsFor(secid string, interval int) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.secid == secid && c.interval == interval {
			out = append(out, c)
		}
	}
	return out
}

// memCandles is an in-memory stand-in for the candles model.
type memCandles struct {
	mu         sync.Mutex
	watermarks map[string]time.Time // secid/interval/class
	rows       []model.Candle
}

func newMemCandles() *memCandles {
	return &memCandles{watermarks: make(map[string]time.Time)}
}

func candleKey(secid string, interval int64, class string) string {
	return fmt.Sprintf("%s/%d/%s", secid, interval, class)
}

func (m *memCandles) setWatermark(secid string, interval int64, class string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[candleKey(secid, interval, class)] = t
}

func (m *memCandles) LastBeginTime(_ context.Context, secid string, interval int64, class string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.watermarks[candleKey(secid, interval, class)]
	return t, ok, nil
}

func (m *memCandles) InsertBatch(_ context.Context, rows []model.Candle) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		dup := false
		for _, have := range m.rows {
			if have.SecID == row.SecID && have.BeginTime.Equal(row.BeginTime) &&
				have.Interval == row.Interval && have.Type == row.Type {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.rows = append(m.rows, row)
		key := candleKey(row.SecID, row.Interval, row.Type)
		if row.BeginTime.After(m.watermarks[key]) {
			m.watermarks[key] = row.BeginTime
		}
		inserted++
	}
	return len(rows), inserted, nil
}

func (m *memCandles) rowsFor(secid string, interval int64) []model.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candle
	for _, row := range m.rows {
		if row.SecID == secid && row.Interval == interval {
			out = append(out, row)
		}
	}
	return out
}

// memOI is an in-memory stand-in for the open interest model.
type memOI struct {
	mu   sync.Mutex
	rows map[string]model.OpenInterest // full primary key
}

func newMemOI() *memOI {
	return &memOI{rows: make(map[string]model.OpenInterest)}
}

func oiKey(row model.OpenInterest) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", row.SecType, row.TradeDate.Format(time.DateOnly), row.TradeTime, row.ClGroup, row.Interval)
}

func (m *memOI) LastDateTime(_ context.Context, sectype string, interval int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	found := false
	for _, row := range m.rows {
		if row.SecType != sectype || row.Interval != interval {
			continue
		}
		var h, min, s int
		fmt.Sscanf(row.TradeTime, "%d:%d:%d", &h, &min, &s)
		ts := row.TradeDate.Add(time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(s)*time.Second)
		if ts.After(last) {
			last = ts
			found = true
		}
	}
	return last, found, nil
}

func (m *memOI) LastDate(_ context.Context, sectype string, interval int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	found := false
	for _, row := range m.rows {
		if row.SecType != sectype || row.Interval != interval {
			continue
		}
		if row.TradeDate.After(last) {
			last = row.TradeDate
			found = true
		}
	}
	return last, found, nil
}

func (m *memOI) UpsertFiveMin(_ context.Context, rows []model.OpenInterest) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		key := oiKey(row)
		if have, ok := m.rows[key]; ok && have == row {
			continue
		}
		m.rows[key] = row
		inserted++
	}
	return len(rows), inserted, nil
}

func (m *memOI) InsertDerived(_ context.Context, rows []model.OpenInterest) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		key := oiKey(row)
		if _, ok := m.rows[key]; ok {
			continue
		}
		m.rows[key] = row
		inserted++
	}
	return len(rows), inserted, nil
}

func (m *memOI) MissingHours(_ context.Context, sectype string, limitDays int) ([]model.HourSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hourly := make(map[string]struct{})
	var missing []model.HourSlot
	for _, row := range m.rows {
		if row.SecType == sectype && row.Interval == model.OIIntervalHourly {
			var h int
			fmt.Sscanf(row.TradeTime, "%d:", &h)
			hourly[fmt.Sprintf("%s/%d", row.TradeDate.Format(time.DateOnly), h)] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	for _, row := range m.rows {
		if row.SecType != sectype || row.Interval != model.OIIntervalFiveMin {
			continue
		}
		var h, min, s int
		fmt.Sscanf(row.TradeTime, "%d:%d:%d", &h, &min, &s)
		if min != 55 {
			continue
		}
		key := fmt.Sprintf("%s/%d", row.TradeDate.Format(time.DateOnly), h)
		if _, ok := hourly[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, model.HourSlot{Date: row.TradeDate, Hour: h})
	}
	return missing, nil
}

func (m *memOI) FiveMinAtMinute55(_ context.Context, sectype string, date time.Time, hour int) ([]model.OpenInterest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := fmt.Sprintf("%02d:55:00", hour)
	var out []model.OpenInterest
	for _, row := range m.rows {
		if row.SecType == sectype && row.Interval == model.OIIntervalFiveMin &&
			row.TradeDate.Equal(date) && row.TradeTime == want {
			out = append(out, row)
		}
	}
	return out, nil
}

type futoiCall struct {
	ticker string
	from   time.Time
	till   time.Time
	latest bool
}

type fakeFutoiFetcher struct {
	mu      sync.Mutex
	calls   []futoiCall
	records map[string][]algopack.FutoiRecord
	errs    map[string]error
}

func (f *fakeFutoiFetcher) Futoi(_ context.Context, ticker string, from, till time.Time, latest bool) ([]algopack.FutoiRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, futoiCall{ticker: ticker, from: from, till: till, latest: latest})
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return f.records[ticker], nil
}

func (f *fakeFutoiFetcher) callsFor(ticker string) []futoiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []futoiCall
	for _, c := range f.calls {
		if c.ticker == ticker {
			out = append(out, c)
		}
	}
	return out
}

type fakeInstruments struct {
	stocks  []model.Instrument
	issOnes []model.Instrument
}

func (f *fakeInstruments) FindByClass(_ context.Context, class string) ([]model.Instrument, error) {
	if class == model.ClassStock {
		return f.stocks, nil
	}
	return nil, nil
}

func (f *fakeInstruments) FindFuturesFamilies(context.Context) ([]model.FuturesFamily, error) {
	return nil, nil
}

func (f *fakeInstruments) FindWithIssCode(context.Context) ([]model.Instrument, error) {
	return f.issOnes, nil
}

type openPositionsCall struct {
	issCode string
	date    time.Time
}

type fakeISS struct {
	mu      sync.Mutex
	calls   []openPositionsCall
	records map[string][]moexiss.OpenPositionRecord // keyed by date
}

func (f *fakeISS) OpenPositions(_ context.Context, issCode string, date time.Time) ([]moexiss.OpenPositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, openPositionsCall{issCode: issCode, date: date})
	return f.records[date.Format(time.DateOnly)], nil
}
