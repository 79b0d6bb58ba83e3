package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// Interval values stored in the open_interest.interval column.
const (
	OIIntervalFiveMin = 5
	OIIntervalHourly  = 60
	OIIntervalDaily   = 24
)

var _ OpenInterestModel = (*defaultOpenInterestModel)(nil)

type (
	// OpenInterestModel persists open interest rows at all three
	// granularities and answers staleness queries for the aggregator.
	OpenInterestModel interface {
		// LastDateTime returns the newest tradedate+tradetime stored
		// for a ticker at the given interval.
		LastDateTime(ctx context.Context, sectype string, interval int64) (time.Time, bool, error)
		// LastDate returns the newest tradedate stored for a ticker at
		// the given interval.
		LastDate(ctx context.Context, sectype string, interval int64) (time.Time, bool, error)
		// UpsertFiveMin writes primary 5-minute rows. Conflicting rows
		// are overwritten so that upstream corrections win; rewriting
		// identical values counts as zero inserted.
		UpsertFiveMin(ctx context.Context, rows []OpenInterest) (attempted, inserted int, err error)
		// InsertDerived writes hourly and daily rows with
		// conflict-ignore semantics: once written they are immutable.
		InsertDerived(ctx context.Context, rows []OpenInterest) (attempted, inserted int, err error)
		// MissingHours lists (date, hour) pairs that have a minute-55
		// five-minute row but no hourly row yet. limitDays <= 0 scans
		// the whole history.
		MissingHours(ctx context.Context, sectype string, limitDays int) ([]HourSlot, error)
		// FiveMinAtMinute55 returns the 5-minute rows at HH:55:00 for
		// one ticker, date and hour.
		FiveMinAtMinute55(ctx context.Context, sectype string, date time.Time, hour int) ([]OpenInterest, error)
	}

	OpenInterest struct {
		SecType     string       `db:"sectype"`
		TradeDate   time.Time    `db:"tradedate"`
		TradeTime   string       `db:"tradetime"` // HH:MM:SS
		ClGroup     string       `db:"clgroup"`
		Interval    int64        `db:"interval"`
		Pos         int64        `db:"pos"`
		PosLong     int64        `db:"pos_long"`
		PosShort    int64        `db:"pos_short"`
		PosLongNum  int64        `db:"pos_long_num"`
		PosShortNum int64        `db:"pos_short_num"`
		SysTime     sql.NullTime `db:"systime"`
	}

	HourSlot struct {
		Date time.Time `db:"tradedate"`
		Hour int       `db:"hour"`
	}

	defaultOpenInterestModel struct {
		conn sqlx.SqlConn
	}
)

// NewOpenInterestModel returns a model for the open_interest table.
func NewOpenInterestModel(conn sqlx.SqlConn) OpenInterestModel {
	return &defaultOpenInterestModel{conn: conn}
}

func (m *defaultOpenInterestModel) LastDateTime(ctx context.Context, sectype string, interval int64) (time.Time, bool, error) {
	const q = `SELECT MAX(tradedate + tradetime) FROM open_interest
WHERE sectype = $1 AND "interval" = $2`
	return m.queryWatermark(ctx, q, sectype, interval)
}

func (m *defaultOpenInterestModel) LastDate(ctx context.Context, sectype string, interval int64) (time.Time, bool, error) {
	const q = `SELECT MAX(tradedate) FROM open_interest
WHERE sectype = $1 AND "interval" = $2`
	return m.queryWatermark(ctx, q, sectype, interval)
}

func (m *defaultOpenInterestModel) queryWatermark(ctx context.Context, q, sectype string, interval int64) (time.Time, bool, error) {
	var last sql.NullTime
	if err := m.conn.QueryRowCtx(ctx, &last, q, sectype, interval); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

func (m *defaultOpenInterestModel) UpsertFiveMin(ctx context.Context, rows []OpenInterest) (int, int, error) {
	// The WHERE clause keeps rewrites of identical payloads at zero rows
	// affected, so refetch overlap does not read as new data.
	const q = `INSERT INTO open_interest
(sectype, tradedate, tradetime, clgroup, pos, pos_long, pos_short, pos_long_num, pos_short_num, systime, "interval")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (sectype, tradedate, tradetime, clgroup, "interval") DO UPDATE SET
pos = EXCLUDED.pos, pos_long = EXCLUDED.pos_long, pos_short = EXCLUDED.pos_short,
pos_long_num = EXCLUDED.pos_long_num, pos_short_num = EXCLUDED.pos_short_num,
systime = EXCLUDED.systime
WHERE (open_interest.pos, open_interest.pos_long, open_interest.pos_short,
open_interest.pos_long_num, open_interest.pos_short_num)
IS DISTINCT FROM
(EXCLUDED.pos, EXCLUDED.pos_long, EXCLUDED.pos_short, EXCLUDED.pos_long_num, EXCLUDED.pos_short_num)`
	return m.writeRows(ctx, q, rows)
}

func (m *defaultOpenInterestModel) InsertDerived(ctx context.Context, rows []OpenInterest) (int, int, error) {
	const q = `INSERT INTO open_interest
(sectype, tradedate, tradetime, clgroup, pos, pos_long, pos_short, pos_long_num, pos_short_num, systime, "interval")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (sectype, tradedate, tradetime, clgroup, "interval") DO NOTHING`
	return m.writeRows(ctx, q, rows)
}

func (m *defaultOpenInterestModel) writeRows(ctx context.Context, q string, rows []OpenInterest) (int, int, error) {
	attempted := len(rows)
	inserted := 0
	for _, row := range rows {
		res, err := m.conn.ExecCtx(ctx, q,
			row.SecType, row.TradeDate, row.TradeTime, row.ClGroup,
			row.Pos, row.PosLong, row.PosShort, row.PosLongNum, row.PosShortNum,
			row.SysTime, row.Interval,
		)
		if err != nil {
			if isDuplicateKey(err) {
				continue
			}
			logx.WithContext(ctx).Errorf("open_interest write %s %s %s interval=%d: %v",
				row.SecType, row.TradeDate.Format(time.DateOnly), row.TradeTime, row.Interval, err)
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			continue
		}
		inserted += int(n)
	}
	return attempted, inserted, nil
}

func (m *defaultOpenInterestModel) MissingHours(ctx context.Context, sectype string, limitDays int) ([]HourSlot, error) {
	dateFilter := ""
	args := []interface{}{sectype}
	if limitDays > 0 {
		dateFilter = "AND tradedate >= CURRENT_DATE - $2::int"
		args = append(args, limitDays)
	}
	q := fmt.Sprintf(`WITH five_min_hours AS (
	SELECT DISTINCT tradedate, EXTRACT(HOUR FROM tradetime)::int AS hour
	FROM open_interest
	WHERE sectype = $1 AND "interval" = %d
	  AND EXTRACT(MINUTE FROM tradetime) = 55 %s
),
existing_hourly AS (
	SELECT DISTINCT tradedate, EXTRACT(HOUR FROM tradetime)::int AS hour
	FROM open_interest
	WHERE sectype = $1 AND "interval" = %d %s
)
SELECT f.tradedate, f.hour
FROM five_min_hours f
LEFT JOIN existing_hourly e ON f.tradedate = e.tradedate AND f.hour = e.hour
WHERE e.tradedate IS NULL
ORDER BY f.tradedate, f.hour`, OIIntervalFiveMin, dateFilter, OIIntervalHourly, dateFilter)

	var slots []HourSlot
	if err := m.conn.QueryRowsCtx(ctx, &slots, q, args...); err != nil {
		return nil, err
	}
	return slots, nil
}

func (m *defaultOpenInterestModel) FiveMinAtMinute55(ctx context.Context, sectype string, date time.Time, hour int) ([]OpenInterest, error) {
	const q = `SELECT sectype, tradedate, tradetime::text AS tradetime, clgroup, "interval",
pos, pos_long, pos_short, pos_long_num, pos_short_num, systime
FROM open_interest
WHERE sectype = $1 AND tradedate = $2 AND "interval" = $3
  AND tradetime = make_time($4, 55, 0.0)`
	var rows []OpenInterest
	if err := m.conn.QueryRowsCtx(ctx, &rows, q, sectype, date, OIIntervalFiveMin, hour); err != nil {
		return nil, err
	}
	return rows, nil
}
