package controller

import (
	"context"
	"errors"
	"time"

	"dow30tracker/internal/refresh"
)

// ErrSurfaceClosed is returned by a Presenter once the viewer has gone away.
// The run loop treats it as a clean shutdown.
var ErrSurfaceClosed = errors.New("render surface closed")

// State is the controller phase.
type State int

const (
	Idle State = iota
	Stepping
	Refreshing
)

func (s State) String() string {
	switch s {
	case Stepping:
		return "stepping"
	case Refreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// Bar is one row as drawn.
type Bar struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Label     string  `json:"label"`
	Highlight bool    `json:"highlight"`
}

// Frame is a full redraw of the table for the active category.
type Frame struct {
	Category   string    `json:"category"`
	Direction  string    `json:"direction"`
	Categories []string  `json:"categories"`
	State      string    `json:"state"`
	Market     string    `json:"market"`
	Refreshed  time.Time `json:"refreshed"`
	Bars       []Bar     `json:"bars"`
}

// IndexedBar is a bar at a table position.
type IndexedBar struct {
	Index int `json:"index"`
	Bar
}

// Update redraws only the listed positions: the pair just swapped,
// highlighted, and the previously highlighted pair, cleared.
type Update struct {
	Category string       `json:"category"`
	Bars     []IndexedBar `json:"bars"`
}

// Presenter draws frames. Implementations return ErrSurfaceClosed when
// nobody is watching any more.
type Presenter interface {
	Redraw(Frame) error
	Update(Update) error
}

// Clock answers trading-hours questions; clock.MarketClock implements it.
type Clock interface {
	ShouldRefresh(now, last time.Time) bool
	Status(now time.Time) string
}

// Poller reports a background refresh's result without blocking.
type Poller interface {
	Poll() (refresh.Report, bool)
}

// RefreshFunc starts a background refresh.
type RefreshFunc func(ctx context.Context) (Poller, error)

// StartRefresh adapts a Refresher to a RefreshFunc for the given scope.
func StartRefresh(r *refresh.Refresher, scope refresh.Scope) RefreshFunc {
	return func(ctx context.Context) (Poller, error) {
		job, err := r.Start(ctx, scope)
		if err != nil {
			return nil, err
		}
		return job, nil
	}
}
