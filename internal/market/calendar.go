// Package market provides trading-calendar rules for fetch-range adjustment.
// Only the weekend rule is modeled; exchange holiday calendars are not. A
// holiday inside a trimmed range simply yields zero provider rows, which the
// provider contract treats as a legitimate empty result.
package market

import (
	"time"

	"github.com/quantlab/platformscan/internal/domain"
)

// IsTradingDay reports whether d falls on a weekday.
func IsTradingDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextTradingDay returns the first trading day on or after d.
func NextTradingDay(d time.Time) time.Time {
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevTradingDay returns the last trading day on or before d.
func PrevTradingDay(d time.Time) time.Time {
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// ClampRange trims a fetch range to its first and last trading days.
// Returns ok=false when the range contains no trading days at all, in which
// case the range must be skipped, not queried.
func ClampRange(rng domain.FetchRange) (domain.FetchRange, bool) {
	if rng.IsZero() {
		return domain.FetchRange{}, false
	}
	start := NextTradingDay(rng.Start)
	end := PrevTradingDay(rng.End)
	if end.Before(start) {
		return domain.FetchRange{}, false
	}
	return domain.FetchRange{Start: start, End: end}, true
}

// TradingDays counts trading days in the inclusive range [start, end].
func TradingDays(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			n++
		}
	}
	return n
}

// CalendarDays counts calendar days in the inclusive range [start, end].
func CalendarDays(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}
