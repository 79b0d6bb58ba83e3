package updater

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

func futoiRecord(ticker string, day time.Time, tradeTime, clgroup string, pos int64) algopack.FutoiRecord {
	return algopack.FutoiRecord{
		Ticker:      ticker,
		TradeDate:   day,
		TradeTime:   tradeTime,
		ClGroup:     clgroup,
		Pos:         pos,
		PosLong:     pos + 10,
		PosShort:    -10,
		PosLongNum:  3,
		PosShortNum: 2,
		SysTime:     day.Add(11 * time.Hour),
	}
}

func newOIFiveMinUnderTest(fetcher *fakeFutoiFetcher, store *memOI, tickers ...string) *OIFiveMin {
	u := NewOIFiveMin(fetcher, store, tickers)
	u.now = func() time.Time { return testNow }
	return u
}

func TestOIFiveMinBootstrapWindow(t *testing.T) {
	fetcher := &fakeFutoiFetcher{}
	u := newOIFiveMinUnderTest(fetcher, newMemOI(), "SI")

	_, err := u.UpdateOnce(context.Background())
	require.NoError(t, err)

	calls := fetcher.callsFor("SI")
	require.Len(t, calls, 1)
	assert.True(t, calls[0].from.Equal(testNow.Add(-oiBootstrap)))
	assert.False(t, calls[0].latest)
}

func TestOIFiveMinRefetchesOneDayOverlap(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	store := newMemOI()
	_, _, err := store.UpsertFiveMin(context.Background(), []model.OpenInterest{{
		SecType: "SI", TradeDate: day, TradeTime: "15:55:00",
		ClGroup: algopack.GroupIndividuals, Interval: model.OIIntervalFiveMin, Pos: 1,
	}})
	require.NoError(t, err)

	fetcher := &fakeFutoiFetcher{}
	u := newOIFiveMinUnderTest(fetcher, store, "SI")

	_, err = u.UpdateOnce(context.Background())
	require.NoError(t, err)

	calls := fetcher.callsFor("SI")
	require.Len(t, calls, 1)
	watermark := day.Add(15*time.Hour + 55*time.Minute)
	assert.True(t, calls[0].from.Equal(watermark.Add(-oiRefetchOverlap)))
}

func TestOIFiveMinStoresTypedRows(t *testing.T) {
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFutoiFetcher{records: map[string][]algopack.FutoiRecord{
		"SI": {
			futoiRecord("SI", day, "10:55:00", algopack.GroupIndividuals, 100),
			futoiRecord("SI", day, "10:55:00", algopack.GroupLegalEntities, -100),
		},
	}}
	store := newMemOI()
	u := newOIFiveMinUnderTest(fetcher, store, "SI")

	res, err := u.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Inserted)

	rows, err := store.FiveMinAtMinute55(context.Background(), "SI", day, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, int64(model.OIIntervalFiveMin), row.Interval)
		assert.True(t, row.SysTime.Valid)
	}
}

func TestOIFiveMinOverwriteIsIdempotent(t *testing.T) {
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFutoiFetcher{records: map[string][]algopack.FutoiRecord{
		"SI": {futoiRecord("SI", day, "10:55:00", algopack.GroupIndividuals, 100)},
	}}
	store := newMemOI()
	u := newOIFiveMinUnderTest(fetcher, store, "SI")

	res, err := u.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	// Identical refetch changes nothing.
	res, err = u.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
}

func TestOIFiveMinLatestFastPath(t *testing.T) {
	fetcher := &fakeFutoiFetcher{}
	u := newOIFiveMinUnderTest(fetcher, newMemOI(), "SI", "RI")

	_, err := u.UpdateLatest(context.Background())
	require.NoError(t, err)

	for _, ticker := range []string{"SI", "RI"} {
		calls := fetcher.callsFor(ticker)
		require.Len(t, calls, 1)
		assert.True(t, calls[0].latest)
		assert.True(t, calls[0].from.Equal(testNow))
	}
}

func TestOIFiveMinFailedTickerIsolated(t *testing.T) {
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFutoiFetcher{
		records: map[string][]algopack.FutoiRecord{
			"SI": {futoiRecord("SI", day, "10:55:00", algopack.GroupIndividuals, 100)},
		},
		errs: map[string]error{"RI": errors.New("boom")},
	}
	u := newOIFiveMinUnderTest(fetcher, newMemOI(), "SI", "RI")

	res, err := u.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed)
}
