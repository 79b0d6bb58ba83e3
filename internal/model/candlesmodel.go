package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ CandlesModel = (*defaultCandlesModel)(nil)

type (
	// CandlesModel persists OHLCV rows and answers watermark queries.
	CandlesModel interface {
		// LastBeginTime returns the newest begin_time stored for an
		// instrument at the given interval, ok=false when nothing is stored.
		LastBeginTime(ctx context.Context, secid string, interval int64, class string) (time.Time, bool, error)
		// InsertBatch writes rows one by one with conflict-ignore
		// semantics and reports how many were attempted and how many
		// were actually new. Row-level failures are logged and skipped.
		InsertBatch(ctx context.Context, rows []Candle) (attempted, inserted int, err error)
	}

	Candle struct {
		SecID      string          `db:"secid"`
		BeginTime  time.Time       `db:"begin_time"`
		EndTime    time.Time       `db:"end_time"`
		Interval   int64           `db:"interval"`
		Type       string          `db:"type"`
		Open       decimal.Decimal `db:"open"`
		Close      decimal.Decimal `db:"close"`
		High       decimal.Decimal `db:"high"`
		Low        decimal.Decimal `db:"low"`
		Value      decimal.Decimal `db:"value"`
		Volume     decimal.Decimal `db:"volume"`
		FamilyCode string          `db:"sec_id"`
	}

	defaultCandlesModel struct {
		conn sqlx.SqlConn
	}
)

// NewCandlesModel returns a model for the candles table.
func NewCandlesModel(conn sqlx.SqlConn) CandlesModel {
	return &defaultCandlesModel{conn: conn}
}

func (m *defaultCandlesModel) LastBeginTime(ctx context.Context, secid string, interval int64, class string) (time.Time, bool, error) {
	const q = `SELECT MAX(begin_time) FROM candles
WHERE secid = $1 AND "interval" = $2 AND type = $3`
	var last sql.NullTime
	if err := m.conn.QueryRowCtx(ctx, &last, q, secid, interval, class); err != nil {
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

func (m *defaultCandlesModel) InsertBatch(ctx context.Context, rows []Candle) (int, int, error) {
	const q = `INSERT INTO candles
(secid, begin_time, end_time, "interval", type, open, close, high, low, value, volume, sec_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (secid, begin_time, "interval", type) DO NOTHING`

	attempted := len(rows)
	inserted := 0
	for _, row := range rows {
		res, err := m.conn.ExecCtx(ctx, q,
			row.SecID, row.BeginTime, row.EndTime, row.Interval, row.Type,
			row.Open, row.Close, row.High, row.Low, row.Value, row.Volume,
			row.FamilyCode,
		)
		if err != nil {
			if isDuplicateKey(err) {
				continue
			}
			logx.WithContext(ctx).Errorf("candles insert %s %s interval=%d: %v",
				row.SecID, row.BeginTime.Format(time.DateTime), row.Interval, err)
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

// isDuplicateKey recognizes unique violations that slip past the conflict
// clause, e.g. from a concurrent writer on a partial index.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
