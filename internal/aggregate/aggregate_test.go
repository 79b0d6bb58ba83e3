package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

func minuteCandle(begin time.Time, open, close, high, low, value, volume int64) algopack.Candle {
	return algopack.Candle{
		SecID:    "SIU5",
		Interval: 1,
		Begin:    begin,
		End:      begin.Add(59 * time.Second),
		Open:     decimal.NewFromInt(open),
		Close:    decimal.NewFromInt(close),
		High:     decimal.NewFromInt(high),
		Low:      decimal.NewFromInt(low),
		Value:    decimal.NewFromInt(value),
		Volume:   decimal.NewFromInt(volume),
	}
}

func TestFiveMinuteEmpty(t *testing.T) {
	assert.Nil(t, FiveMinute(nil))
	assert.Nil(t, FiveMinute([]algopack.Candle{}))
}

func TestFiveMinuteSingleBucket(t *testing.T) {
	base := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	rows := []algopack.Candle{
		minuteCandle(base, 100, 101, 103, 99, 10, 1),
		minuteCandle(base.Add(1*time.Minute), 101, 102, 105, 100, 20, 2),
		minuteCandle(base.Add(2*time.Minute), 102, 100, 102, 98, 30, 3),
		minuteCandle(base.Add(3*time.Minute), 100, 104, 104, 100, 40, 4),
		minuteCandle(base.Add(4*time.Minute), 104, 103, 106, 103, 50, 5),
	}

	out := FiveMinute(rows)
	require.Len(t, out, 1)
	bar := out[0]
	assert.True(t, bar.Begin.Equal(base))
	assert.Equal(t, 5, bar.Interval)
	assert.True(t, bar.Open.Equal(decimal.NewFromInt(100)), "open from first minute")
	assert.True(t, bar.Close.Equal(decimal.NewFromInt(103)), "close from last minute")
	assert.True(t, bar.High.Equal(decimal.NewFromInt(106)))
	assert.True(t, bar.Low.Equal(decimal.NewFromInt(98)))
	assert.True(t, bar.Value.Equal(decimal.NewFromInt(150)))
	assert.True(t, bar.Volume.Equal(decimal.NewFromInt(15)))
}

func TestFiveMinuteBucketBoundaries(t *testing.T) {
	base := time.Date(2025, 6, 3, 10, 3, 0, 0, time.UTC)
	rows := []algopack.Candle{
		minuteCandle(base, 1, 1, 1, 1, 1, 1),                    // 10:00 bucket
		minuteCandle(base.Add(1*time.Minute), 2, 2, 2, 2, 1, 1), // 10:00 bucket
		minuteCandle(base.Add(2*time.Minute), 3, 3, 3, 3, 1, 1), // 10:05 bucket
	}

	out := FiveMinute(rows)
	require.Len(t, out, 2)
	assert.True(t, out[0].Begin.Equal(time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)))
	assert.True(t, out[1].Begin.Equal(time.Date(2025, 6, 3, 10, 5, 0, 0, time.UTC)))
	assert.True(t, out[0].Close.Equal(decimal.NewFromInt(2)))
	assert.True(t, out[1].Open.Equal(decimal.NewFromInt(3)))
}

func TestFiveMinuteShuffleInvariant(t *testing.T) {
	base := time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)
	var rows []algopack.Candle
	for i := int64(0); i < 30; i++ {
		rows = append(rows, minuteCandle(base.Add(time.Duration(i)*time.Minute),
			100+i, 101+i, 105+i, 95+i, 10*i, i))
	}
	want := FiveMinute(rows)
	require.Len(t, want, 6)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]algopack.Candle, len(rows))
		copy(shuffled, rows)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := FiveMinute(shuffled)
		require.Len(t, got, len(want))
		for i := range want {
			assert.True(t, got[i].Begin.Equal(want[i].Begin))
			assert.True(t, got[i].Open.Equal(want[i].Open))
			assert.True(t, got[i].Close.Equal(want[i].Close))
			assert.True(t, got[i].High.Equal(want[i].High))
			assert.True(t, got[i].Low.Equal(want[i].Low))
			assert.True(t, got[i].Volume.Equal(want[i].Volume))
		}
	}
}
