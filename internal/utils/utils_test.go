package utils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Tracker, cfg.Tracker)
	assert.Equal(t, 60*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
	assert.Equal(t, "America/New_York", cfg.Location().String())
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
tracker:
  category: Market Cap
  descending: true
  tickMillis: 20
market:
  refreshSeconds: 120
marketdata:
  workers: 4
scraper:
  mode: browser
  browser:
    headless: false
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "Market Cap", cfg.Tracker.Category)
	assert.True(t, cfg.Tracker.Descending)
	assert.Equal(t, 20*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 2*time.Minute, cfg.RefreshInterval())
	assert.Equal(t, 4, cfg.MarketData.Workers)
	assert.Equal(t, "browser", cfg.Scraper.Mode)
	assert.False(t, cfg.Scraper.Browser.Headless)
	// untouched keys keep defaults
	assert.Equal(t, 30, cfg.Tracker.Size)
	assert.Equal(t, "09:30", cfg.Market.Open)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad yaml":       "tracker: [",
		"zero workers":   "marketdata:\n  workers: 0\n",
		"bad hours":      "market:\n  open: 9am\n",
		"bad zone":       "market:\n  timezone: Mars/Olympus\n",
		"bad provider":   "marketdata:\n  provider: bloomberg\n",
		"bad mode":       "scraper:\n  mode: telnet\n",
		"alpaca no keys": "marketdata:\n  provider: alpaca\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, dir, strings.ReplaceAll(name, " ", "_")+".yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvSuppliesAlpacaKeys(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "key")
	t.Setenv("ALPACA_SECRET_KEY", "secret")
	path := writeFile(t, t.TempDir(), "config.yaml", "marketdata:\n  provider: alpaca+yahoo\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.MarketData.Alpaca.APIKey)
	assert.Equal(t, "secret", cfg.MarketData.Alpaca.APISecret)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultConfigPath, ConfigPath(""))
	t.Setenv("CONFIG_PATH", "/etc/tracker.yaml")
	assert.Equal(t, "/etc/tracker.yaml", ConfigPath(""))
	assert.Equal(t, "local.yaml", ConfigPath("local.yaml"))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "TRACKER_TEST_VALUE=from-file\n")
	t.Setenv("TRACKER_TEST_VALUE", "")
	os.Unsetenv("TRACKER_TEST_VALUE")

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("TRACKER_TEST_VALUE"))
}

func TestEnsureDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDirs("", dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLogger_WritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "debug")
	require.NoError(t, err)

	logger.Info("refresh %s done", "abc")
	logger.Debug("could not unmarshal event: cookiePart")
	logger.With("symbol", "AAPL").Warn("slow fetch")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "tracker_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	body, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "refresh abc done")
	assert.Contains(t, string(body), `"symbol":"AAPL"`)
	assert.NotContains(t, string(body), "cookiePart")
}

func TestLogger_RejectsLevel(t *testing.T) {
	_, err := NewLogger(t.TempDir(), "chatty")
	assert.Error(t, err)
}

func TestLogger_Wrappers(t *testing.T) {
	logger := NewLoggerFromZap(zaptest.NewLogger(t))
	logger.Error("boom %d", 1)
	assert.NotNil(t, logger.Zap())
	assert.NoError(t, NewNopLogger().Close())
}

func TestPerformanceTracker_Steps(t *testing.T) {
	pt := NewPerformanceTracker()
	clock := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	pt.now = func() time.Time { return clock }

	pt.StartStep("startup")
	pt.StartStep("load")
	clock = clock.Add(2 * time.Second)
	pt.EndStep()
	pt.StartStep("refresh")
	clock = clock.Add(3 * time.Second)
	pt.EndStep()
	pt.EndStep()
	pt.EndStep() // no open step

	report := pt.GenerateReport()
	assert.Contains(t, report, "startup: 5s")
	assert.Contains(t, report, "  load: 2s")
	assert.Contains(t, report, "  refresh: 3s")

	agg, ok := pt.Aggregate("startup")
	require.True(t, ok)
	assert.Equal(t, 1, agg.Count)
	assert.Equal(t, 5*time.Second, agg.Total)
}

func TestPerformanceTracker_ConcurrentObserve(t *testing.T) {
	pt := NewPerformanceTracker()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pt.Observe("fetch", time.Duration(i)*time.Millisecond)
			pt.Track("batch")()
		}(i)
	}
	wg.Wait()

	agg, ok := pt.Aggregate("fetch")
	require.True(t, ok)
	assert.Equal(t, 20, agg.Count)
	assert.Equal(t, time.Millisecond, agg.Min)
	assert.Equal(t, 20*time.Millisecond, agg.Max)
	assert.Equal(t, 210*time.Millisecond, agg.Total)

	batch, _ := pt.Aggregate("batch")
	assert.Equal(t, 20, batch.Count)

	report := pt.GenerateAggregateReport()
	assert.Contains(t, report, "Step: fetch")
	assert.Contains(t, report, "Count:   20")
	_, ok = pt.Aggregate("missing")
	assert.False(t, ok)
}
