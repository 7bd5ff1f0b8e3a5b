package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"dow30tracker/models"
)

// DefaultUserAgent is sent with every request; Yahoo rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                      string   `json:"symbol"`
			RegularMarketPrice          *float64 `json:"regularMarketPrice"`
			RegularMarketChangePercent  *float64 `json:"regularMarketChangePercent"`
			TrailingAnnualDividendYield *float64 `json:"trailingAnnualDividendYield"`
			MarketCap                   *float64 `json:"marketCap"`
			FiftyTwoWeekChangePercent   *float64 `json:"fiftyTwoWeekChangePercent"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

// Yahoo reads the Yahoo Finance v7 quote endpoint.
type Yahoo struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewYahoo returns a client for baseURL (https://query1.finance.yahoo.com
// when empty).
func NewYahoo(baseURL string, httpClient *http.Client) *Yahoo {
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Yahoo{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  DefaultUserAgent,
		httpClient: httpClient,
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) Quote(ctx context.Context, symbol string, scope Scope) (models.Quote, error) {
	endpoint := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", y.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, err
	}
	req.Header.Set("User-Agent", y.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return models.Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("yahoo %s: unexpected status code: %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Quote{}, err
	}

	data, err := decodeYahoo(body)
	if err != nil {
		return models.Quote{}, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	if data.QuoteResponse.Error != nil {
		return models.Quote{}, fmt.Errorf("yahoo API error: %s - %s", data.QuoteResponse.Error.Code, data.QuoteResponse.Error.Description)
	}

	for _, r := range data.QuoteResponse.Result {
		if !strings.EqualFold(r.Symbol, symbol) {
			continue
		}
		q := models.Quote{Symbol: symbol}
		if r.RegularMarketPrice != nil {
			q.Price = price(*r.RegularMarketPrice)
		}
		if r.RegularMarketChangePercent != nil {
			q.DayChange = percent(*r.RegularMarketChangePercent)
		}
		if r.TrailingAnnualDividendYield != nil {
			q.DividendYield = percent(*r.TrailingAnnualDividendYield * 100)
		}
		if r.MarketCap != nil {
			q.MarketCap = marketCap(*r.MarketCap)
		}
		if r.FiftyTwoWeekChangePercent != nil {
			q.YearChange = percent(*r.FiftyTwoWeekChangePercent)
		}
		q = scope.Filter(q)
		if len(q.Fields()) == 0 {
			return models.Quote{}, fmt.Errorf("yahoo %s: %w", symbol, ErrNoData)
		}
		return q, nil
	}
	return models.Quote{}, fmt.Errorf("yahoo %s: %w", symbol, ErrNoData)
}

// decodeYahoo unmarshals body, retrying once on a repaired copy when the
// payload is truncated or otherwise not valid JSON.
func decodeYahoo(body []byte) (yahooQuoteResponse, error) {
	var data yahooQuoteResponse
	err := json.Unmarshal(body, &data)
	if err == nil {
		return data, nil
	}

	repaired, rerr := jsonrepair.JSONRepair(string(body))
	if rerr != nil {
		return data, fmt.Errorf("decode quote: %w", err)
	}
	data = yahooQuoteResponse{}
	if err := json.Unmarshal([]byte(repaired), &data); err != nil {
		return data, fmt.Errorf("decode repaired quote: %w", err)
	}
	return data, nil
}
