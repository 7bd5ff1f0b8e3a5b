package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is used when neither -config nor CONFIG_PATH is given.
const DefaultConfigPath = "configs/config.yaml"

// Config is the whole runtime configuration. Durations are plain integers in
// the unit named by the key so the YAML stays readable.
type Config struct {
	Tracker struct {
		DataFile    string `yaml:"dataFile"`
		Size        int    `yaml:"size"`
		Category    string `yaml:"category"`
		Descending  bool   `yaml:"descending"`
		TickMillis  int    `yaml:"tickMillis"`
		SaveOnFetch bool   `yaml:"saveOnRefresh"`
	} `yaml:"tracker"`

	Market struct {
		Timezone        string `yaml:"timezone"`
		Open            string `yaml:"open"`
		Close           string `yaml:"close"`
		RefreshInterval int    `yaml:"refreshSeconds"`
	} `yaml:"market"`

	Scraper struct {
		URL       string `yaml:"url"`
		Mode      string `yaml:"mode"` // http or browser
		Timeout   int    `yaml:"timeout"`
		Retries   int    `yaml:"retries"`
		Delay     int    `yaml:"delay"`
		UserAgent string `yaml:"userAgent"`
		Browser   struct {
			Headless bool `yaml:"headless"`
			Debug    bool `yaml:"debug"`
		} `yaml:"browser"`
	} `yaml:"scraper"`

	MarketData struct {
		Provider      string `yaml:"provider"` // yahoo, alpaca or alpaca+yahoo
		Workers       int    `yaml:"workers"`
		TimeoutMillis int    `yaml:"timeoutMillis"`
		Retries       int    `yaml:"retries"`
		BackoffMillis int    `yaml:"backoffMillis"`
		Yahoo         struct {
			BaseURL string `yaml:"baseURL"`
		} `yaml:"yahoo"`
		Alpaca struct {
			APIKey    string `yaml:"apiKey"`
			APISecret string `yaml:"apiSecret"`
			BaseURL   string `yaml:"baseURL"`
			Feed      string `yaml:"feed"`
		} `yaml:"alpaca"`
	} `yaml:"marketdata"`

	Visualization struct {
		Addr        string `yaml:"addr"`
		DataDir     string `yaml:"dataDir"`
		ExitOnClose bool   `yaml:"exitOnClose"`
		WaitViewer  bool   `yaml:"waitForViewer"`
	} `yaml:"visualization"`

	Log struct {
		Dir   string `yaml:"dir"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns the configuration used for any key the file omits.
func DefaultConfig() *Config {
	c := &Config{}

	c.Tracker.DataFile = "data/dow30.csv"
	c.Tracker.Size = 30
	c.Tracker.Category = "Stock Price"
	c.Tracker.TickMillis = 50
	c.Tracker.SaveOnFetch = true

	c.Market.Timezone = "America/New_York"
	c.Market.Open = "09:30"
	c.Market.Close = "16:00"
	c.Market.RefreshInterval = 60

	c.Scraper.URL = "https://en.wikipedia.org/wiki/Dow_Jones_Industrial_Average"
	c.Scraper.Mode = "http"
	c.Scraper.Timeout = 30
	c.Scraper.Retries = 2
	c.Scraper.Delay = 2
	c.Scraper.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	c.Scraper.Browser.Headless = true

	c.MarketData.Provider = "yahoo"
	c.MarketData.Workers = 10
	c.MarketData.TimeoutMillis = 10000
	c.MarketData.Retries = 2
	c.MarketData.BackoffMillis = 250
	c.MarketData.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	c.MarketData.Alpaca.Feed = "iex"

	c.Visualization.Addr = ":8080"
	c.Visualization.DataDir = "data"
	c.Visualization.ExitOnClose = true
	c.Visualization.WaitViewer = true

	c.Log.Dir = "logs"
	c.Log.Level = "info"
	return c
}

// ConfigPath resolves the configuration file location. An explicit flag
// value wins over CONFIG_PATH.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig reads path on top of the defaults. A missing file is not an
// error. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	config.applyEnv()
	return config, config.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.MarketData.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.MarketData.Alpaca.APISecret = v
	}
	if v := os.Getenv("MARKETDATA_PROVIDER"); v != "" {
		c.MarketData.Provider = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Tracker.DataFile == "":
		return fmt.Errorf("tracker.dataFile is required")
	case c.Tracker.Size < 1:
		return fmt.Errorf("tracker.size must be positive, got %d", c.Tracker.Size)
	case c.Tracker.TickMillis < 1:
		return fmt.Errorf("tracker.tickMillis must be positive, got %d", c.Tracker.TickMillis)
	case c.Market.RefreshInterval < 1:
		return fmt.Errorf("market.refreshSeconds must be positive, got %d", c.Market.RefreshInterval)
	case c.MarketData.Workers < 1:
		return fmt.Errorf("marketdata.workers must be positive, got %d", c.MarketData.Workers)
	case c.MarketData.TimeoutMillis < 1:
		return fmt.Errorf("marketdata.timeoutMillis must be positive, got %d", c.MarketData.TimeoutMillis)
	case c.MarketData.Retries < 0:
		return fmt.Errorf("marketdata.retries must not be negative, got %d", c.MarketData.Retries)
	case c.Scraper.Timeout < 1:
		return fmt.Errorf("scraper.timeout must be positive, got %d", c.Scraper.Timeout)
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	for key, v := range map[string]string{"market.open": c.Market.Open, "market.close": c.Market.Close} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("%s: invalid time %q, want HH:MM", key, v)
		}
	}

	switch c.Scraper.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("scraper.mode must be http or browser, got %q", c.Scraper.Mode)
	}

	switch c.MarketData.Provider {
	case "yahoo":
	case "alpaca", "alpaca+yahoo":
		if c.MarketData.Alpaca.APIKey == "" || c.MarketData.Alpaca.APISecret == "" {
			return fmt.Errorf("marketdata provider %q needs ALPACA_API_KEY and ALPACA_SECRET_KEY", c.MarketData.Provider)
		}
	default:
		return fmt.Errorf("unknown marketdata provider %q", c.MarketData.Provider)
	}
	return nil
}

// Location returns the market time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Tracker.TickMillis) * time.Millisecond
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Market.RefreshInterval) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.MarketData.TimeoutMillis) * time.Millisecond
}

func (c *Config) FetchBackoff() time.Duration {
	return time.Duration(c.MarketData.BackoffMillis) * time.Millisecond
}

func (c *Config) ScraperTimeout() time.Duration {
	return time.Duration(c.Scraper.Timeout) * time.Second
}
