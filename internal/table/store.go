// Package table holds the in-memory table of tracked companies and its CSV
// persistence.
//
// A Store is the single owner of the rows. Two mutations exist: Swap, used by
// the sorter, and Lease.SetField, used by the refresher. While a lease is held
// Swap fails with ErrLeased, so a sort step can never interleave with a
// refresh writing the same rows.
package table

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"dow30tracker/models"
)

var (
	// ErrLeased is returned by Swap and Lease while a refresh lease is held.
	ErrLeased = errors.New("table is leased for refresh")

	// ErrOutOfRange is returned for row indices outside the table.
	ErrOutOfRange = errors.New("row index out of range")

	// ErrUnknownCategory is returned for category names not declared at init.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrKindMismatch is returned when a value does not match its category kind.
	ErrKindMismatch = errors.New("value kind does not match category")

	// ErrInvalidTable is returned by NewStore for inconsistent seed rows.
	ErrInvalidTable = errors.New("invalid table")
)

// Store is an ordered table of entities with a fixed category set.
type Store struct {
	mu         sync.RWMutex
	categories []models.Category
	columns    map[string]int
	rows       []models.Entity
	leased     atomic.Bool
}

// NewStore builds a store over a copy of rows. Every row must carry one value
// per category and symbols must be unique.
func NewStore(categories []models.Category, rows []models.Entity) (*Store, error) {
	columns := make(map[string]int, len(categories))
	for i, c := range categories {
		if _, dup := columns[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidTable, c.Name)
		}
		columns[c.Name] = i
	}

	seen := make(map[string]struct{}, len(rows))
	copied := make([]models.Entity, len(rows))
	for i, row := range rows {
		if row.Symbol == "" {
			return nil, fmt.Errorf("%w: row %d has no symbol", ErrInvalidTable, i)
		}
		if _, dup := seen[row.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %q", ErrInvalidTable, row.Symbol)
		}
		seen[row.Symbol] = struct{}{}
		if len(row.Values) != len(categories) {
			return nil, fmt.Errorf("%w: row %s has %d values, want %d",
				ErrInvalidTable, row.Symbol, len(row.Values), len(categories))
		}
		copied[i] = row.Clone()
	}

	cats := make([]models.Category, len(categories))
	copy(cats, categories)

	return &Store{categories: cats, columns: columns, rows: copied}, nil
}

// Len returns the number of rows. It never changes.
func (s *Store) Len() int {
	return len(s.rows)
}

// Categories returns the declared categories in display order.
func (s *Store) Categories() []models.Category {
	cats := make([]models.Category, len(s.categories))
	copy(cats, s.categories)
	return cats
}

// Category looks up a declared category by name.
func (s *Store) Category(name string) (models.Category, bool) {
	col, ok := s.columns[name]
	if !ok {
		return models.Category{}, false
	}
	return s.categories[col], true
}

func (s *Store) column(name string) (int, error) {
	col, ok := s.columns[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return col, nil
}

func (s *Store) checkIndex(i int) error {
	if i < 0 || i >= len(s.rows) {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(s.rows))
	}
	return nil
}

// Row returns a copy of row i.
func (s *Store) Row(i int) (models.Entity, error) {
	if err := s.checkIndex(i); err != nil {
		return models.Entity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[i].Clone(), nil
}

// Rows returns a copy of every row in table order.
func (s *Store) Rows() []models.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Entity, len(s.rows))
	for i, row := range s.rows {
		out[i] = row.Clone()
	}
	return out
}

// Symbols returns the tickers in table order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.rows))
	for i, row := range s.rows {
		out[i] = row.Symbol
	}
	return out
}

// IndexOf returns the current position of symbol, or -1.
func (s *Store) IndexOf(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfLocked(symbol)
}

func (s *Store) indexOfLocked(symbol string) int {
	for i, row := range s.rows {
		if row.Symbol == symbol {
			return i
		}
	}
	return -1
}

// Field returns the value of category at row i.
func (s *Store) Field(i int, category string) (models.Value, error) {
	col, err := s.column(category)
	if err != nil {
		return models.Value{}, err
	}
	if err := s.checkIndex(i); err != nil {
		return models.Value{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[i].Values[col], nil
}

// Snapshot returns the values of category in table order.
func (s *Store) Snapshot(category string) ([]models.Value, error) {
	col, err := s.column(category)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Value, len(s.rows))
	for i, row := range s.rows {
		out[i] = row.Values[col]
	}
	return out, nil
}

// Swap exchanges rows i and j in place.
func (s *Store) Swap(i, j int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	if err := s.checkIndex(j); err != nil {
		return err
	}
	if s.leased.Load() {
		return ErrLeased
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the write lock: a lease may have been taken in between.
	if s.leased.Load() {
		return ErrLeased
	}
	s.rows[i], s.rows[j] = s.rows[j], s.rows[i]
	return nil
}

// Leased reports whether a refresh lease is currently held.
func (s *Store) Leased() bool {
	return s.leased.Load()
}

func (s *Store) setFieldLocked(i, col int, v models.Value) error {
	want := s.categories[col].Kind
	if !v.IsMissing() && v.Kind != want {
		return fmt.Errorf("%w: %s is %s, got %s",
			ErrKindMismatch, s.categories[col].Name, want, v.Kind)
	}
	s.rows[i].Values[col] = v
	return nil
}
