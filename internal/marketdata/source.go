// Package marketdata fetches per-ticker quotes: price, one-day change,
// dividend yield, market cap and 52-week change.
package marketdata

import (
	"context"
	"errors"

	"dow30tracker/models"
)

// ErrNoData is returned when a source answered but had nothing for the symbol.
var ErrNoData = errors.New("no market data")

// Scope selects which quote fields a refresh needs.
type Scope int

const (
	// Prices covers Stock Price and 1D % Growth.
	Prices Scope = iota
	// Full covers every market field.
	Full
)

func (s Scope) String() string {
	if s == Full {
		return "full"
	}
	return "prices"
}

// Categories lists the table categories the scope writes.
func (s Scope) Categories() []string {
	if s == Full {
		return []string{
			models.CategoryPrice, models.CategoryDayChange,
			models.CategoryDividendYield, models.CategoryMarketCap, models.CategoryYearChange,
		}
	}
	return []string{models.CategoryPrice, models.CategoryDayChange}
}

// Filter drops the fields of q that lie outside the scope.
func (s Scope) Filter(q models.Quote) models.Quote {
	if s == Full {
		return q
	}
	return models.Quote{Symbol: q.Symbol, Price: q.Price, DayChange: q.DayChange}
}

// Satisfied reports whether q has every field the scope asks for.
func (s Scope) Satisfied(q models.Quote) bool {
	if s == Full {
		return q.Complete()
	}
	return !q.Price.IsMissing() && !q.DayChange.IsMissing()
}

// Source returns a quote for one ticker. Implementations must honor ctx and
// be safe for concurrent use.
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string, scope Scope) (models.Quote, error)
}

func percent(f float64) models.Value { return models.NumberFromFloat(f, 2) }

func price(f float64) models.Value { return models.NumberFromFloat(f, 2) }

func marketCap(f float64) models.Value { return models.NumberFromFloat(f, 0) }
