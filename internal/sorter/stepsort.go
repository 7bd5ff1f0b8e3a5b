// Package sorter implements a resumable exchange sort that performs at most
// one row swap per call, so each swap can be drawn as its own animation frame.
package sorter

import (
	"fmt"

	"dow30tracker/models"
)

// Direction is the target order.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// Toggle returns the opposite direction.
func (d Direction) Toggle() Direction {
	if d == Descending {
		return Ascending
	}
	return Descending
}

// Result is the outcome of one Step.
type Result int

const (
	// Swapped means one pair of rows was exchanged.
	Swapped Result = iota + 1
	// Sorted means a full pass completed without a swap.
	Sorted
)

func (r Result) String() string {
	switch r {
	case Swapped:
		return "swapped"
	case Sorted:
		return "sorted"
	default:
		return "none"
	}
}

// Rows is the table the sorter works on.
type Rows interface {
	Len() int
	Field(i int, category string) (models.Value, error)
	Swap(i, j int) error
}

// Cursor marks the next comparison: row Left against row Right.
type Cursor struct {
	Left  int
	Right int
}

// Stats counts the work done since construction.
type Stats struct {
	Comparisons uint64
	Swaps       uint64
	Passes      uint64
}

// StepSort sorts Rows by one category, one swap per Step.
//
// The scan is an exchange sort: for each left position every later row is
// compared against it and swapped in when out of order. A pass that swapped
// anything is followed by a verification pass, so Sorted is only reported
// after a full pass with zero swaps. StepSort is not safe for concurrent use.
type StepSort struct {
	rows Rows
	key  string
	dir  Direction

	cursor    Cursor
	complete  bool
	passSwaps int

	last    Cursor
	hasLast bool
	stats   Stats
}

// New returns a sorter positioned at the start of the table.
func New(rows Rows, key string, dir Direction) *StepSort {
	return &StepSort{rows: rows, key: key, dir: dir}
}

// Key returns the active sort category.
func (s *StepSort) Key() string { return s.key }

// Direction returns the active order.
func (s *StepSort) Direction() Direction { return s.dir }

// Cursor returns the resume position.
func (s *StepSort) Cursor() Cursor { return s.cursor }

// IsComplete reports whether the last Step returned Sorted with no reset
// since.
func (s *StepSort) IsComplete() bool { return s.complete }

// LastSwap returns the most recently swapped pair since the last reset.
func (s *StepSort) LastSwap() (Cursor, bool) { return s.last, s.hasLast }

// Stats returns cumulative counters.
func (s *StepSort) Stats() Stats { return s.stats }

// Reset restarts the sort from (0, 0) without changing key or direction.
func (s *StepSort) Reset() {
	s.cursor = Cursor{}
	s.complete = false
	s.passSwaps = 0
	s.last = Cursor{}
	s.hasLast = false
}

// SetKey changes the sort category and resets progress.
func (s *StepSort) SetKey(key string) {
	s.key = key
	s.Reset()
}

// SetDirection changes the order and resets progress.
func (s *StepSort) SetDirection(dir Direction) {
	s.dir = dir
	s.Reset()
}

// Toggle flips the order and resets progress.
func (s *StepSort) Toggle() {
	s.SetDirection(s.dir.Toggle())
}

func (s *StepSort) outOfOrder(l, r int) (bool, error) {
	left, err := s.rows.Field(l, s.key)
	if err != nil {
		return false, fmt.Errorf("compare rows %d and %d: %w", l, r, err)
	}
	right, err := s.rows.Field(r, s.key)
	if err != nil {
		return false, fmt.Errorf("compare rows %d and %d: %w", l, r, err)
	}
	s.stats.Comparisons++

	c := models.Compare(left, right)
	if s.dir == Descending {
		return c < 0, nil
	}
	return c > 0, nil
}

// Step resumes the scan and stops at the first swap or at the end of a
// zero-swap pass. Once Sorted has been returned further calls do nothing and
// return Sorted until the sorter is reset. On error the cursor stays on the
// failing pair.
func (s *StepSort) Step() (Result, error) {
	if s.complete {
		return Sorted, nil
	}

	n := s.rows.Len()
	if n < 2 {
		s.finish()
		return Sorted, nil
	}

	l, r := s.cursor.Left, s.cursor.Right
	if l < 0 {
		l = 0
	}
	for {
		if l >= n-1 {
			s.stats.Passes++
			if s.passSwaps == 0 {
				s.finish()
				return Sorted, nil
			}
			s.passSwaps = 0
			l, r = 0, 1
		}
		if r <= l || r >= n {
			r = l + 1
		}

		for ; r < n; r++ {
			swap, err := s.outOfOrder(l, r)
			if err != nil {
				s.cursor = Cursor{Left: l, Right: r}
				return 0, err
			}
			if !swap {
				continue
			}
			if err := s.rows.Swap(l, r); err != nil {
				s.cursor = Cursor{Left: l, Right: r}
				return 0, fmt.Errorf("swap rows %d and %d: %w", l, r, err)
			}
			s.stats.Swaps++
			s.passSwaps++
			s.last = Cursor{Left: l, Right: r}
			s.hasLast = true
			if r+1 < n {
				s.cursor = Cursor{Left: l, Right: r + 1}
			} else {
				s.cursor = Cursor{Left: l + 1, Right: l + 2}
			}
			return Swapped, nil
		}

		l++
		r = l + 1
	}
}

func (s *StepSort) finish() {
	s.complete = true
	s.cursor = Cursor{}
	s.passSwaps = 0
}
