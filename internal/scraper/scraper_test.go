package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dow30tracker/internal/utils"
)

func fixture(t *testing.T) string {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", "constituents.html"))
	require.NoError(t, err)
	return string(body)
}

func testConfig(t *testing.T, url string, size int) *utils.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := utils.DefaultConfig()
	cfg.Scraper.URL = url
	cfg.Scraper.Retries = 1
	cfg.Scraper.Delay = 0
	cfg.Tracker.Size = size
	cfg.Tracker.DataFile = filepath.Join(dir, "data", "dow30.csv")
	cfg.Log.Dir = filepath.Join(dir, "logs")
	return cfg
}

func TestParseConstituents(t *testing.T) {
	list, err := ParseConstituents(strings.NewReader(fixture(t)))
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, []string{"AAPL", "MMM", "MSFT"}, []string{list[0].Symbol, list[1].Symbol, list[2].Symbol})

	apple := list[0]
	assert.Equal(t, "Apple Inc.", apple.Name)
	assert.Equal(t, "NASDAQ", apple.Exchange)
	assert.Equal(t, "Information technology", apple.Industry)
	assert.Equal(t, "3.17", apple.Weight.String())
}

func TestParseConstituents_HeaderOrderDoesNotMatter(t *testing.T) {
	html := `<table>
<tr><th>Symbol</th><th>Index weighting</th><th>Company</th></tr>
<tr><td>KO</td><td>n/a</td><td>Coca-Cola</td></tr>
</table>`
	list, err := ParseConstituents(strings.NewReader(html))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Coca-Cola", list[0].Name)
	assert.Equal(t, "", list[0].Exchange)
	assert.True(t, list[0].Weight.IsMissing())
}

func TestParseConstituents_NoTable(t *testing.T) {
	_, err := ParseConstituents(strings.NewReader(`<table><tr><th>Foundation</th></tr></table>`))
	assert.Error(t, err)
}

func TestConstituents_FromHTTP(t *testing.T) {
	page := fixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tracker-test", r.Header.Get("User-Agent"))
		w.Write([]byte(page))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, 3)
	s := NewScraper(utils.NewNopLogger(), cfg, NewHTTPFetcher(srv.Client(), "tracker-test"))
	list, err := s.Constituents(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestConstituents_WrongSizeIsUnavailable(t *testing.T) {
	page := fixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	s := NewScraper(utils.NewNopLogger(), testConfig(t, srv.URL, 30), NewHTTPFetcher(srv.Client(), ""))
	_, err := s.Constituents(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorContains(t, err, "expected 30 constituents, found 3")
}

func TestConstituents_RetriesThenGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewScraper(utils.NewNopLogger(), testConfig(t, srv.URL, 3), NewHTTPFetcher(srv.Client(), ""))
	_, err := s.Constituents(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

type fakeFetcher struct {
	pages []string
	errs  []error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.pages[i], nil
}

func (f *fakeFetcher) checks() []check {
	return []check{{"Fake Runtime", func(context.Context) error {
		if len(f.errs) > 0 && f.errs[0] != nil {
			return f.errs[0]
		}
		return nil
	}}}
}

func TestConstituents_RecoversOnRetry(t *testing.T) {
	f := &fakeFetcher{pages: []string{"", fixture(t)}, errs: []error{errors.New("reset")}}
	s := NewScraper(utils.NewNopLogger(), testConfig(t, "http://example.invalid", 3), f)
	list, err := s.Constituents(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, 2, f.calls)
}

func TestPreflightCheck(t *testing.T) {
	cfg := testConfig(t, "http://example.invalid", 3)
	s := NewScraper(utils.NewNopLogger(), cfg, NewHTTPFetcher(nil, ""))
	require.NoError(t, s.PreflightCheck(context.Background()))

	for _, dir := range []string{filepath.Dir(cfg.Tracker.DataFile), cfg.Log.Dir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	broken := NewScraper(utils.NewNopLogger(), cfg, &fakeFetcher{errs: []error{errors.New("chrome not found")}})
	err := broken.PreflightCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Fake Runtime check failed")

	cfg.Scraper.URL = ""
	assert.Error(t, s.PreflightCheck(context.Background()))
	s.Close()
}

func TestBrowserFetcher(t *testing.T) {
	if os.Getenv("TRACKER_BROWSER_TESTS") == "" {
		t.Skip("set TRACKER_BROWSER_TESTS=1 to run against a local Chrome")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture(t)))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, 3)
	f := NewBrowserFetcher(utils.NewNopLogger(), cfg)
	defer f.Close()

	s := NewScraper(utils.NewNopLogger(), cfg, f)
	require.NoError(t, s.PreflightCheck(context.Background()))
	list, err := s.Constituents(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
