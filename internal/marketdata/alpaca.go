package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"dow30tracker/models"
)

// AlpacaClient is the part of *marketdata.Client the Alpaca source uses.
type AlpacaClient interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Alpaca derives price, one-day change and 52-week change from Alpaca
// market data. It has no dividend or market-cap data.
type Alpaca struct {
	client AlpacaClient
	feed   marketdata.Feed
	now    func() time.Time
}

// AlpacaOptions configures NewAlpaca.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

// NewAlpaca builds a source on a real market data client.
func NewAlpaca(opts AlpacaOptions) *Alpaca {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
		BaseURL:   opts.BaseURL,
	})
	return NewAlpacaWithClient(client, opts.Feed)
}

// NewAlpacaWithClient wraps an existing client.
func NewAlpacaWithClient(client AlpacaClient, feed string) *Alpaca {
	f := marketdata.Feed(feed)
	if f == "" {
		f = marketdata.IEX
	}
	return &Alpaca{client: client, feed: f, now: time.Now}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) Quote(ctx context.Context, symbol string, scope Scope) (models.Quote, error) {
	// The client takes no context, so the deadline is enforced around it.
	type result struct {
		q   models.Quote
		err error
	}
	done := make(chan result, 1)
	go func() {
		q, err := a.fetch(symbol, scope)
		done <- result{q, err}
	}()

	select {
	case <-ctx.Done():
		return models.Quote{}, fmt.Errorf("alpaca %s: %w", symbol, ctx.Err())
	case r := <-done:
		return r.q, r.err
	}
}

func (a *Alpaca) fetch(symbol string, scope Scope) (models.Quote, error) {
	snap, err := a.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{Feed: a.feed})
	if err != nil {
		return models.Quote{}, fmt.Errorf("alpaca snapshot %s: %w", symbol, err)
	}
	if snap == nil {
		return models.Quote{}, fmt.Errorf("alpaca %s: %w", symbol, ErrNoData)
	}

	q := models.Quote{Symbol: symbol}
	last := lastPrice(snap)
	if last > 0 {
		q.Price = price(last)
		if snap.PrevDailyBar != nil && snap.PrevDailyBar.Close > 0 {
			q.DayChange = change(last, snap.PrevDailyBar.Close)
		}
	}

	if scope == Full {
		end := a.now()
		bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     end.AddDate(-1, 0, 0),
			End:       end,
			Feed:      a.feed,
		})
		if err != nil {
			return models.Quote{}, fmt.Errorf("alpaca bars %s: %w", symbol, err)
		}
		if len(bars) > 1 && bars[0].Close > 0 {
			q.YearChange = change(bars[len(bars)-1].Close, bars[0].Close)
		}
	}

	if len(q.Fields()) == 0 {
		return models.Quote{}, fmt.Errorf("alpaca %s: %w", symbol, ErrNoData)
	}
	return q, nil
}

func lastPrice(snap *marketdata.Snapshot) float64 {
	switch {
	case snap.LatestTrade != nil && snap.LatestTrade.Price > 0:
		return snap.LatestTrade.Price
	case snap.DailyBar != nil:
		return snap.DailyBar.Close
	default:
		return 0
	}
}

// change is (now-then)/then in percent, rounded to two places.
func change(now, then float64) models.Value {
	n, t := decimal.NewFromFloat(now), decimal.NewFromFloat(then)
	return models.Number(n.Sub(t).Div(t).Mul(decimal.NewFromInt(100)).Round(2))
}
