// Package scraper reads the current index membership, the list of
// constituent companies with exchange, industry and index weighting.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"dow30tracker/internal/utils"
	"dow30tracker/models"
)

// ErrSourceUnavailable means the membership list could not be obtained;
// callers fall back to the persisted table.
var ErrSourceUnavailable = errors.New("company list source unavailable")

var footnote = regexp.MustCompile(`\[[^\]]*\]`)

type Scraper struct {
	logger  *utils.Logger
	config  *utils.Config
	fetcher Fetcher
}

func NewScraper(logger *utils.Logger, config *utils.Config, fetcher Fetcher) *Scraper {
	return &Scraper{
		logger:  logger,
		config:  config,
		fetcher: fetcher,
	}
}

// NewFetcher picks the fetcher named by scraper.mode.
func NewFetcher(logger *utils.Logger, config *utils.Config) Fetcher {
	if config.Scraper.Mode == "browser" {
		return NewBrowserFetcher(logger, config)
	}
	return NewHTTPFetcher(nil, config.Scraper.UserAgent)
}

// Constituents downloads and parses the membership table, sorted by symbol.
// Any failure, including a list of unexpected size, wraps
// ErrSourceUnavailable.
func (s *Scraper) Constituents(ctx context.Context) ([]models.Constituent, error) {
	url := s.config.Scraper.URL
	var lastErr error

	for attempt := 0; attempt <= s.config.Scraper.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(s.config.Scraper.Delay) * time.Second
			s.logger.Debug("Retrying company list fetch in %v (attempt %d)", delay, attempt+1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		list, err := s.fetchOnce(ctx, url)
		if err == nil {
			s.logger.Info("Fetched %d constituents from %s", len(list), url)
			return list, nil
		}
		lastErr = err
		s.logger.Warn("Company list fetch attempt %d failed: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

func (s *Scraper) fetchOnce(ctx context.Context, url string) ([]models.Constituent, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.ScraperTimeout())
	defer cancel()

	html, err := s.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		return nil, err
	}
	list, err := ParseConstituents(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	if want := s.config.Tracker.Size; len(list) != want {
		return nil, fmt.Errorf("expected %d constituents, found %d", want, len(list))
	}
	return list, nil
}

type columns struct {
	company, exchange, symbol, industry, weight int
}

func cleanText(s string) string {
	s = footnote.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

// findColumns maps header cells to column positions. Company and Symbol are
// required; the others are -1 when absent.
func findColumns(header *goquery.Selection) (columns, bool) {
	cols := columns{-1, -1, -1, -1, -1}
	header.Children().Each(func(i int, cell *goquery.Selection) {
		name := strings.ToLower(cleanText(cell.Text()))
		switch {
		case name == "company":
			cols.company = i
		case name == "exchange":
			cols.exchange = i
		case name == "symbol":
			cols.symbol = i
		case name == "industry":
			cols.industry = i
		case strings.HasPrefix(name, "index weighting"):
			cols.weight = i
		}
	})
	return cols, cols.company >= 0 && cols.symbol >= 0
}

// ParseConstituents extracts the first table whose header names Company and
// Symbol. Rows without a symbol are skipped; an unparsable weight becomes
// Missing.
func ParseConstituents(r io.Reader) ([]models.Constituent, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var (
		list  []models.Constituent
		found bool
	)
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		rows := table.Find("tr")
		if rows.Length() == 0 {
			return true
		}
		cols, ok := findColumns(rows.First())
		if !ok {
			return true
		}
		found = true

		rows.Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
			cells := row.Children()
			text := func(i int) string {
				if i < 0 || i >= cells.Length() {
					return ""
				}
				return cleanText(cells.Eq(i).Text())
			}

			symbol := strings.ToUpper(text(cols.symbol))
			if symbol == "" {
				return
			}
			weight, err := models.ParseNumber(text(cols.weight))
			if err != nil {
				weight = models.Missing()
			}
			list = append(list, models.Constituent{
				Name:     text(cols.company),
				Symbol:   symbol,
				Exchange: text(cols.exchange),
				Industry: text(cols.industry),
				Weight:   weight,
			})
		})
		return false
	})

	if !found {
		return nil, fmt.Errorf("no constituents table found")
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list, nil
}

// PreflightCheck verifies configuration, directories and, for the browser
// fetcher, that Chrome starts and accepts network settings.
func (s *Scraper) PreflightCheck(ctx context.Context) error {
	checks := []check{
		{"Config Validation", func(context.Context) error { return s.validateConfig() }},
		{"Directory Structure", func(context.Context) error { return s.checkDirectories() }},
	}
	if c, ok := s.fetcher.(checker); ok {
		checks = append(checks, c.checks()...)
	}

	for _, c := range checks {
		s.logger.Debug("Running preflight check: %s", c.name)
		if err := c.run(ctx); err != nil {
			return fmt.Errorf("%s check failed: %w", c.name, err)
		}
		s.logger.Debug("%s check passed", c.name)
	}
	return nil
}

func (s *Scraper) validateConfig() error {
	if s.config == nil {
		return fmt.Errorf("configuration is nil")
	}
	if s.config.Scraper.URL == "" {
		return fmt.Errorf("scraper url is empty")
	}
	return s.config.Validate()
}

func (s *Scraper) checkDirectories() error {
	return utils.EnsureDirs(
		filepath.Dir(s.config.Tracker.DataFile),
		s.config.Log.Dir,
	)
}

// Close releases the fetcher if it holds resources.
func (s *Scraper) Close() {
	if c, ok := s.fetcher.(interface{ Close() }); ok {
		c.Close()
	}
}
