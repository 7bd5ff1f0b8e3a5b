// Package metrics records tracker activity. Nop discards everything and is
// the default; Prometheus exports the same events on /metrics.
package metrics

import "time"

// Collector receives tracker events. Implementations must be safe for
// concurrent use: refresh workers report fetches from their own goroutines.
type Collector interface {
	// RecordStep counts one sorter step by result ("swapped", "sorted", "error").
	RecordStep(result string)
	// RecordRefresh observes a finished batch.
	RecordRefresh(scope string, d time.Duration, updated, failed int)
	// RecordFetch counts one per-entity fetch by outcome ("ok", "error", "timeout").
	RecordFetch(source, outcome string, d time.Duration)
	// SetState publishes the controller state.
	SetState(state string)
	// SetViewers publishes the number of connected viewers.
	SetViewers(n int)
}

// Nop implements Collector with no effect.
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) RecordStep(string)                             {}
func (Nop) RecordRefresh(string, time.Duration, int, int) {}
func (Nop) RecordFetch(string, string, time.Duration)     {}
func (Nop) SetState(string)                               {}
func (Nop) SetViewers(int)                                {}
