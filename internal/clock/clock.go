// Package clock decides when the exchange is open and when a data refresh is
// due. Every method is a pure function of its arguments and the configuration.
package clock

import (
	"fmt"
	"time"
)

// Market status strings.
const (
	StatusOpen    = "OPEN"
	StatusClosed  = "CLOSED"
	StatusWeekend = "WEEKEND"
)

// Config describes the trading window.
type Config struct {
	Location *time.Location
	Open     string        // "HH:MM" in Location
	Close    string        // "HH:MM" in Location
	Interval time.Duration // Minimum time between refreshes
}

// MarketClock maps a timestamp to trading-hours and refresh-due answers.
type MarketClock struct {
	loc      *time.Location
	open     int // Minutes after midnight
	close    int
	interval time.Duration
}

// New validates cfg and builds a MarketClock.
func New(cfg Config) (MarketClock, error) {
	if cfg.Location == nil {
		return MarketClock{}, fmt.Errorf("market clock: time zone is required")
	}
	open, err := parseClock(cfg.Open)
	if err != nil {
		return MarketClock{}, fmt.Errorf("market clock: open: %w", err)
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return MarketClock{}, fmt.Errorf("market clock: close: %w", err)
	}
	if closeAt <= open {
		return MarketClock{}, fmt.Errorf("market clock: close %s is not after open %s", cfg.Close, cfg.Open)
	}
	if cfg.Interval <= 0 {
		return MarketClock{}, fmt.Errorf("market clock: refresh interval must be positive")
	}
	return MarketClock{loc: cfg.Location, open: open, close: closeAt, interval: cfg.Interval}, nil
}

// MustNew is New for configuration known to be valid.
func MustNew(cfg Config) MarketClock {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// IsOpen reports whether now falls on a weekday inside [open, close).
func (c MarketClock) IsOpen(now time.Time) bool {
	local := now.In(c.loc)
	if isWeekend(local) {
		return false
	}
	hour, min, _ := local.Clock()
	minutes := hour*60 + min
	return minutes >= c.open && minutes < c.close
}

// RefreshDue reports whether at least the refresh interval has elapsed since
// last. A zero last is always due.
func (c MarketClock) RefreshDue(now, last time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= c.interval
}

// ShouldRefresh combines the trading-hours gate with the interval check.
func (c MarketClock) ShouldRefresh(now, last time.Time) bool {
	return c.IsOpen(now) && c.RefreshDue(now, last)
}

// Status returns OPEN, CLOSED or WEEKEND.
func (c MarketClock) Status(now time.Time) string {
	local := now.In(c.loc)
	switch {
	case isWeekend(local):
		return StatusWeekend
	case c.IsOpen(now):
		return StatusOpen
	default:
		return StatusClosed
	}
}

// NextOpen returns the next instant at or after now when the window opens.
// If the market is open it returns now.
func (c MarketClock) NextOpen(now time.Time) time.Time {
	if c.IsOpen(now) {
		return now
	}
	local := now.In(c.loc)
	var candidate time.Time
	for i := 0; i < 8; i++ {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+i, c.open/60, c.open%60, 0, 0, c.loc)
		if !isWeekend(candidate) && !candidate.Before(local) {
			break
		}
	}
	return candidate
}

// Interval returns the configured refresh interval.
func (c MarketClock) Interval() time.Duration {
	return c.interval
}

// Location returns the reference time zone.
func (c MarketClock) Location() *time.Location {
	return c.loc
}
