package table

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"

	"dow30tracker/models"
)

// Lease is the exclusive write access a refresh holds over every row.
type Lease struct {
	store    *Store
	released atomic.Bool
}

// Lease acquires the refresh lease. Taking the write lock first means an
// in-flight Swap completes before the lease is visible.
func (s *Store) Lease() (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.leased.CompareAndSwap(false, true) {
		return nil, ErrLeased
	}
	return &Lease{store: s}, nil
}

// SetField writes one value. Missing is accepted for any category.
func (l *Lease) SetField(i int, category string, v models.Value) error {
	s := l.store
	if l.released.Load() {
		return fmt.Errorf("set %s on row %d: lease released", category, i)
	}
	col, err := s.column(category)
	if err != nil {
		return err
	}
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFieldLocked(i, col, v)
}

// Apply writes every non-missing field of q to the row holding q.Symbol in
// one critical section. It returns the number of fields written.
func (l *Lease) Apply(q models.Quote) (int, error) {
	s := l.store
	if l.released.Load() {
		return 0, fmt.Errorf("apply %s: lease released", q.Symbol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(q)
}

// ApplyAll writes a whole batch of quotes in one critical section, so a
// reader never sees some rows refreshed and others not. It returns the number
// of rows that received at least one field; per-quote failures are combined.
func (l *Lease) ApplyAll(quotes []models.Quote) (int, error) {
	s := l.store
	if l.released.Load() {
		return 0, fmt.Errorf("apply batch: lease released")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := 0
	var errs error
	for _, q := range quotes {
		n, err := s.applyLocked(q)
		errs = multierr.Append(errs, err)
		if n > 0 {
			rows++
		}
	}
	return rows, errs
}

func (s *Store) applyLocked(q models.Quote) (int, error) {
	fields := q.Fields()
	i := s.indexOfLocked(q.Symbol)
	if i < 0 {
		return 0, fmt.Errorf("apply %s: %w", q.Symbol, ErrOutOfRange)
	}
	written := 0
	for name, v := range fields {
		col, ok := s.columns[name]
		if !ok {
			continue
		}
		if err := s.setFieldLocked(i, col, v); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Release gives write access back to the sorter. It is safe to call twice.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.store.leased.Store(false)
	}
}
