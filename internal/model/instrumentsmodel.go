package model

import (
	"context"
	"database/sql"
	"strings"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// Instrument classes stored in the instruments.type column.
const (
	ClassFutures = "futures"
	ClassStock   = "stock"
)

var _ InstrumentsModel = (*defaultInstrumentsModel)(nil)

type (
	// InstrumentsModel reads the reference universe of tracked instruments.
	InstrumentsModel interface {
		// FindByClass returns all instruments of the given class.
		FindByClass(ctx context.Context, class string) ([]Instrument, error)
		// FindFuturesFamilies groups futures instruments into contract
		// families keyed by sectype. A family may carry a rotating
		// prefix, a perpetual identifier, or both.
		FindFuturesFamilies(ctx context.Context) ([]FuturesFamily, error)
		// FindWithIssCode returns instruments that carry an ISS open
		// positions code and therefore participate in daily OI collection.
		FindWithIssCode(ctx context.Context) ([]Instrument, error)
	}

	Instrument struct {
		SecID   string         `db:"sec_id"`
		SecType string         `db:"sectype"`
		Name    sql.NullString `db:"name"`
		Type    string         `db:"type"`
		Group   sql.NullString `db:"group"`
		IssCode sql.NullString `db:"iss_code"`
	}

	// FuturesFamily is a set of contracts sharing one base asset, e.g.
	// Si -> SiH5, SiM5, SiU5. Prefix is the candidate stem a month code
	// and year digit get appended to. Perpetual holds the tradable
	// identifier when the family does not rotate (sec_id == sectype)
	// and resolution is not needed.
	FuturesFamily struct {
		SecType   string
		Name      string
		Prefix    string
		Perpetual string
	}

	defaultInstrumentsModel struct {
		conn sqlx.SqlConn
	}
)

// NewInstrumentsModel returns a model for the instruments table.
func NewInstrumentsModel(conn sqlx.SqlConn) InstrumentsModel {
	return &defaultInstrumentsModel{conn: conn}
}

func (m *defaultInstrumentsModel) FindByClass(ctx context.Context, class string) ([]Instrument, error) {
	const q = `SELECT sec_id, sectype, name, type, "group", iss_code
FROM instruments WHERE type = $1 ORDER BY sec_id`
	var rows []Instrument
	if err := m.conn.QueryRowsCtx(ctx, &rows, q, class); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultInstrumentsModel) FindFuturesFamilies(ctx context.Context) ([]FuturesFamily, error) {
	rows, err := m.FindByClass(ctx, ClassFutures)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]*FuturesFamily)
	var order []string
	for _, row := range rows {
		secID := strings.TrimSpace(row.SecID)
		secType := strings.TrimSpace(row.SecType)
		if secID == "" || secType == "" {
			continue
		}
		fam, ok := byType[secType]
		if !ok {
			fam = &FuturesFamily{SecType: secType, Name: row.Name.String}
			byType[secType] = fam
			order = append(order, secType)
		}
		if secID == secType {
			fam.Perpetual = secID
		} else if len(secID) > 1 {
			fam.Prefix = secID[:len(secID)-1]
		}
	}
	families := make([]FuturesFamily, 0, len(order))
	for _, secType := range order {
		families = append(families, *byType[secType])
	}
	return families, nil
}

func (m *defaultInstrumentsModel) FindWithIssCode(ctx context.Context) ([]Instrument, error) {
	const q = `SELECT sec_id, sectype, name, type, "group", iss_code
FROM instruments WHERE iss_code IS NOT NULL AND iss_code <> '' ORDER BY sec_id`
	var rows []Instrument
	if err := m.conn.QueryRowsCtx(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}
