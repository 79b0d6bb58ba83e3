package algopack

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market selects the ISS engine/board path for candle queries.
type Market string

const (
	// MarketFutures targets the FORTS derivatives board (RFUD).
	MarketFutures Market = "futures"
	// MarketStock targets the main equities board (TQBR).
	MarketStock Market = "stock"
)

func (m Market) securitiesPath() string {
	switch m {
	case MarketStock:
		return "/engines/stock/markets/shares/boards/tqbr/securities"
	default:
		return "/engines/futures/markets/forts/boards/rfud/securities"
	}
}

// Candle is one OHLCV observation translated from the upstream tabular payload.
// Upstream column-keyed rows never leave this package.
type Candle struct {
	SecID    string
	Interval int
	Begin    time.Time
	End      time.Time
	Open     decimal.Decimal
	Close    decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Value    decimal.Decimal
	Volume   decimal.Decimal
}

// Client position-holder groups as reported by the futoi endpoint.
const (
	GroupIndividuals   = "FIZ"
	GroupLegalEntities = "YUR"
)

// FutoiRecord is one 5-minute open-interest snapshot for a ticker and client
// group.
type FutoiRecord struct {
	Ticker      string
	TradeDate   time.Time
	TradeTime   string // HH:MM:SS exchange-local
	ClGroup     string
	Pos         int64
	PosLong     int64
	PosShort    int64
	PosLongNum  int64
	PosShortNum int64
	SysTime     time.Time
}

// table mirrors the columns/data block every ISS JSON payload carries.
type table struct {
	Columns []string          `json:"columns"`
	Data    [][]json.RawMessage `json:"data"`
}

func (t table) index() map[string]int {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		idx[c] = i
	}
	return idx
}

func (t table) cell(idx map[string]int, row []json.RawMessage, column string) json.RawMessage {
	i, ok := idx[column]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}

func cellString(raw json.RawMessage) string {
	var s string
	if raw == nil || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func cellInt64(raw json.RawMessage) int64 {
	if raw == nil {
		return 0
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		if f, ferr := n.Float64(); ferr == nil {
			return int64(f)
		}
		return 0
	}
	return v
}

// cellDecimal coerces null and malformed numeric cells to zero: the store does
// not tolerate null OHLCV fields.
func cellDecimal(raw json.RawMessage) decimal.Decimal {
	if raw == nil || string(raw) == "null" {
		return decimal.Zero
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func cellTime(raw json.RawMessage, layout string) (time.Time, error) {
	s := cellString(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("algopack: empty time cell")
	}
	return time.Parse(layout, s)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func trimSecID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
