package calendar

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestWeekdayCalendar_NextTradingClose(t *testing.T) {
	c := NewWeekdayCalendar()

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		// 2025-06-02 is a Monday.
		{"monday after close", date(2025, 6, 2, 16, 5, 0), date(2025, 6, 3, 15, 30, 0)},
		{"monday during session", date(2025, 6, 2, 10, 0, 0), date(2025, 6, 3, 15, 30, 0)},
		{"friday skips weekend", date(2025, 6, 6, 16, 5, 0), date(2025, 6, 9, 15, 30, 0)},
		{"saturday skips to monday", date(2025, 6, 7, 11, 0, 0), date(2025, 6, 9, 15, 30, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.NextTradingClose(tt.from)
			if !got.Equal(tt.want) {
				t.Errorf("NextTradingClose(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestWeekdayCalendar_ExpiryBound(t *testing.T) {
	c := NewWeekdayCalendar()

	// Failure on Monday 16:05 stays retriable through Tuesday 15:29 and
	// expires once evaluated after Tuesday 15:30.
	firstFailed := date(2025, 6, 2, 16, 5, 0)
	bound := c.NextTradingClose(firstFailed)

	stillRetriable := date(2025, 6, 3, 15, 29, 0)
	expired := date(2025, 6, 3, 15, 31, 0)

	if stillRetriable.After(bound) {
		t.Errorf("order expired at %v, bound %v", stillRetriable, bound)
	}
	if !expired.After(bound) {
		t.Errorf("order still retriable at %v, bound %v", expired, bound)
	}
}

func TestWeekdayCalendar_WithinSession(t *testing.T) {
	c := NewWeekdayCalendar()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid session", date(2025, 6, 2, 11, 0, 0), true},
		{"at open", date(2025, 6, 2, 9, 15, 0), true},
		{"at close", date(2025, 6, 2, 15, 30, 0), true},
		{"before open", date(2025, 6, 2, 9, 0, 0), false},
		{"after close", date(2025, 6, 2, 16, 0, 0), false},
		{"saturday", date(2025, 6, 7, 11, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.WithinSession(tt.at); got != tt.want {
				t.Errorf("WithinSession(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestHolidayCalendar_SkipsHolidays(t *testing.T) {
	// Tuesday 2025-06-03 declared a holiday; Monday failure must get
	// Wednesday's close as its bound.
	c := NewHolidayCalendar(NewWeekdayCalendar(), []string{"2025-06-03"})

	got := c.NextTradingClose(date(2025, 6, 2, 16, 5, 0))
	want := date(2025, 6, 4, 15, 30, 0)
	if !got.Equal(want) {
		t.Errorf("NextTradingClose = %v, want %v", got, want)
	}

	if c.IsTradingDay(date(2025, 6, 3, 10, 0, 0)) {
		t.Error("holiday reported as trading day")
	}
	if c.WithinSession(date(2025, 6, 3, 11, 0, 0)) {
		t.Error("holiday session reported open")
	}
}
