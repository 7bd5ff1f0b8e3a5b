package marketdata

import (
	"fmt"
	"net/http"
)

// Options selects and configures the market data provider.
type Options struct {
	Provider     string // yahoo, alpaca or alpaca+yahoo
	YahooBaseURL string
	Alpaca       AlpacaOptions
	HTTPClient   *http.Client
}

// New builds the configured source.
func New(opts Options) (Source, error) {
	switch opts.Provider {
	case "", "yahoo":
		return NewYahoo(opts.YahooBaseURL, opts.HTTPClient), nil
	case "alpaca":
		return NewAlpaca(opts.Alpaca), nil
	case "alpaca+yahoo":
		return NewChain(NewAlpaca(opts.Alpaca), NewYahoo(opts.YahooBaseURL, opts.HTTPClient)), nil
	default:
		return nil, fmt.Errorf("unknown marketdata provider %q", opts.Provider)
	}
}
