// Package aggregate folds 1-minute candles into coarser bars.
package aggregate

import (
	"sort"
	"time"

	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

// FiveMinute folds 1-minute candles into 5-minute bars. Begin times are
// floored to the 5-minute boundary; within a bucket open comes from the
// earliest candle, close from the latest, high/low/value/volume are
// max/min/sum. Input order does not matter, output is sorted by begin.
func FiveMinute(rows []algopack.Candle) []algopack.Candle {
	if len(rows) == 0 {
		return nil
	}

	sorted := make([]algopack.Candle, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Begin.Before(sorted[j].Begin) })

	var out []algopack.Candle
	var cur *algopack.Candle
	for _, row := range sorted {
		bucket := floorToFive(row.Begin)
		if cur == nil || !cur.Begin.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			bar := row
			bar.Begin = bucket
			bar.End = bucket.Add(5*time.Minute - time.Second)
			bar.Interval = 5
			cur = &bar
			continue
		}
		cur.Close = row.Close
		if row.High.GreaterThan(cur.High) {
			cur.High = row.High
		}
		if row.Low.LessThan(cur.Low) {
			cur.Low = row.Low
		}
		cur.Value = cur.Value.Add(row.Value)
		cur.Volume = cur.Volume.Add(row.Volume)
	}
	out = append(out, *cur)
	return out
}

func floorToFive(t time.Time) time.Time {
	return t.Truncate(5 * time.Minute)
}
