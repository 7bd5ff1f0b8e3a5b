package marketdata

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"dow30tracker/models"
)

// Chain asks each source in order and fills the fields earlier sources left
// missing. It stops as soon as the scope is satisfied and fails only when
// every source failed.
type Chain struct {
	sources []Source
}

func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (c *Chain) Quote(ctx context.Context, symbol string, scope Scope) (models.Quote, error) {
	var (
		merged models.Quote
		ok     bool
		errs   error
	)
	for _, s := range c.sources {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		q, err := s.Quote(ctx, symbol, scope)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if !ok {
			merged, ok = q, true
		} else {
			merged = merged.Merge(q)
		}
		if scope.Satisfied(merged) {
			break
		}
	}
	if !ok {
		if errs == nil {
			errs = fmt.Errorf("%s: %w", symbol, ErrNoData)
		}
		return models.Quote{}, errs
	}
	merged.Symbol = symbol
	return merged, nil
}
