package util

import (
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar provides trading-day and market-hours awareness for the
// Indian cash/derivatives session. It prefers the XNSE exchange calendar and
// falls back to a plain Mon-Fri 09:15-15:30 IST schedule when the calendar
// is unavailable.
type TradingCalendar struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given MIC (ISO 10383,
// e.g. "xnse"). Unknown MICs use the fallback schedule.
func NewTradingCalendar(mic string) *TradingCalendar {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		loc, err := time.LoadLocation("Asia/Kolkata")
		if err != nil {
			loc = time.UTC
		}
		return &TradingCalendar{fallback: true, loc: loc}
	}
	return &TradingCalendar{cal: cal, loc: cal.Loc}
}

// Location returns the calendar's time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether date falls on a trading day.
func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.loc != nil {
		date = date.In(tc.loc)
	}
	if tc.fallback {
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return tc.cal.IsBusinessDay(date)
}

// IsOpen reports whether the market is open at t.
func (tc *TradingCalendar) IsOpen(t time.Time) bool {
	if tc.loc != nil {
		t = t.In(tc.loc)
	}
	if tc.fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		h, m := t.Hour(), t.Minute()
		afterOpen := h > 9 || (h == 9 && m >= 15)
		beforeClose := h < 15 || (h == 15 && m < 30)
		return afterOpen && beforeClose
	}
	return tc.cal.IsOpen(t)
}

// SameTradingDate reports whether a and b fall on the same calendar date in
// the exchange time zone. Used to detect a still-forming daily candle.
func (tc *TradingCalendar) SameTradingDate(a, b time.Time) bool {
	if tc.loc != nil {
		a = a.In(tc.loc)
		b = b.In(tc.loc)
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
