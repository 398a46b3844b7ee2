// Package calendar computes trading-session boundaries. The engine uses it
// for the retry-expiry bound: a failed order stays retriable until the close
// of the next trading day after its first failure.
package calendar

import "time"

// TradingCalendar is injectable so holiday-aware providers can replace the
// weekday-only default without touching the engine.
type TradingCalendar interface {
	// NextTradingClose returns the market-close timestamp of the next
	// trading day strictly after the given instant's date.
	NextTradingClose(from time.Time) time.Time

	// IsTradingDay reports whether the given date is a trading day.
	IsTradingDay(t time.Time) bool

	// WithinSession reports whether the instant falls inside market hours
	// on a trading day.
	WithinSession(t time.Time) bool
}

// WeekdayCalendar skips Saturdays and Sundays only. Exchange holidays are
// not known to it; wrap it in a HolidayCalendar for that.
type WeekdayCalendar struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// NewWeekdayCalendar returns a calendar with NSE session times
// (09:15 open, 15:30 close).
func NewWeekdayCalendar() *WeekdayCalendar {
	return &WeekdayCalendar{OpenHour: 9, OpenMinute: 15, CloseHour: 15, CloseMinute: 30}
}

func (c *WeekdayCalendar) IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (c *WeekdayCalendar) NextTradingClose(from time.Time) time.Time {
	day := from.AddDate(0, 0, 1)
	for !c.IsTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.CloseHour, c.CloseMinute, 0, 0, from.Location())
}

func (c *WeekdayCalendar) WithinSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), c.OpenHour, c.OpenMinute, 0, 0, t.Location())
	close := time.Date(t.Year(), t.Month(), t.Day(), c.CloseHour, c.CloseMinute, 0, 0, t.Location())
	return !t.Before(open) && !t.After(close)
}

// HolidayCalendar wraps another calendar with a set of exchange holidays
// (dates in YYYY-MM-DD form, typically loaded from config).
type HolidayCalendar struct {
	inner    TradingCalendar
	holidays map[string]struct{}
}

func NewHolidayCalendar(inner TradingCalendar, holidays []string) *HolidayCalendar {
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[h] = struct{}{}
	}
	return &HolidayCalendar{inner: inner, holidays: set}
}

func (c *HolidayCalendar) IsTradingDay(t time.Time) bool {
	if _, ok := c.holidays[t.Format("2006-01-02")]; ok {
		return false
	}
	return c.inner.IsTradingDay(t)
}

func (c *HolidayCalendar) NextTradingClose(from time.Time) time.Time {
	next := c.inner.NextTradingClose(from)
	for !c.IsTradingDay(next) {
		next = c.inner.NextTradingClose(next)
	}
	return next
}

func (c *HolidayCalendar) WithinSession(t time.Time) bool {
	return c.IsTradingDay(t) && c.inner.WithinSession(t)
}
