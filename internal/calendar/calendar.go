// Package calendar answers trading-day and trading-hours questions for the
// Moscow Exchange against a static holiday set. It performs no I/O and is safe
// for concurrent use.
package calendar

import (
	"fmt"
	"sync"
	"time"
)

const maxDaySearch = 30

var (
	mskOnce sync.Once
	msk     *time.Location
)

// Moscow returns the exchange time zone. Falls back to a fixed UTC+3 offset
// when the tzdata database is unavailable.
func Moscow() *time.Location {
	mskOnce.Do(func() {
		loc, err := time.LoadLocation("Europe/Moscow")
		if err != nil {
			loc = time.FixedZone("MSK", 3*60*60)
		}
		msk = loc
	})
	return msk
}

// MoscowNow returns the current exchange-local time.
func MoscowNow() time.Time {
	return time.Now().In(Moscow())
}

/// Break is a midday no-trading window, e.g. the 18:50-19:05 pause between the
// main and evening stock sessions.
type Break struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

func (b Break) contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	return minute >= b.StartHour*60+b.StartMinute && minute < b.EndHour*60+b.EndMinute
}

func (b Break) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", b.StartHour, b.StartMinute, b.EndHour, b.EndMinute)
}

// Session describes intraday trading hours for one instrument class.
type Session struct {
	StartHour int
	EndHour   int
	Break     *Break
}

var (
	// FuturesSession covers the FORTS derivatives market: 07:00-24:00 MSK.
	FuturesSession = Session{StartHour: 7, EndHour: 24}

	// StockSession covers the TQBR equities board: 10:00-24:00 MSK with the
	// 18:50-19:05 pause between the main and evening sessions.
	StockSession = Session{
		StartHour: 10,
		EndHour:   24,
		Break:     &Break{StartHour: 18, StartMinute: 50, EndHour: 19, EndMinute: 5},
	}
)

// IsTradingDay reports whether d falls on a MOEX trading day. Weekends and the
// static holiday set are non-trading; dates in years the set does not cover
// default to trading.
func IsTradingDay(d time.Time) (bool, string) {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false, fmt.Sprintf("weekend (%s)", d.Weekday())
	}
	if isHoliday(d) {
		return false, fmt.Sprintf("MOEX holiday (%s)", d.Format("2006-01-02"))
	}
	return true, "trading day"
}

// IsTradingHours reports whether t lies within the session's trading hours on
// a trading day.
func IsTradingHours(t time.Time, s Session) (bool, string) {
	if ok, reason := IsTradingDay(t); !ok {
		return false, reason
	}
	if t.Hour() < s.StartHour {
		return false, fmt.Sprintf("before session open (%02d:00 MSK)", s.StartHour)
	}
	if t.Hour() >= s.EndHour {
		return false, "session closed"
	}
	if s.Break != nil && s.Break.contains(t) {
		return false, fmt.Sprintf("session break (%s)", s.Break)
	}
	return true, "trading session"
}

// PreviousTradingDay returns the nearest trading day strictly before from.
func PreviousTradingDay(from time.Time) (time.Time, error) {
	d := from.AddDate(0, 0, -1)
	for i := 0; i < maxDaySearch; i++ {
		if ok, _ := IsTradingDay(d); ok {
			return d, nil
		}
		d = d.AddDate(0, 0, -1)
	}
	return time.Time{}, fmt.Errorf("calendar: no trading day within %d days before %s", maxDaySearch, from.Format("2006-01-02"))
}

// NextTradingDay returns the nearest trading day strictly after from.
func NextTradingDay(from time.Time) (time.Time, error) {
	d := from.AddDate(0, 0, 1)
	for i := 0; i < maxDaySearch; i++ {
		if ok, _ := IsTradingDay(d); ok {
			return d, nil
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("calendar: no trading day within %d days after %s", maxDaySearch, from.Format("2006-01-02"))
}

// TradingDates lists the trading days in [from, till], inclusive.
func TradingDates(from, till time.Time) []time.Time {
	var dates []time.Time
	for d := from; !d.After(till); d = d.AddDate(0, 0, 1) {
		if ok, _ := IsTradingDay(d); ok {
			dates = append(dates, d)
		}
	}
	return dates
}
