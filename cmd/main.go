// Package main runs the Dow 30 tracker: it seeds the table from the
// persisted CSV and the live constituent list, refreshes market data, and
// animates the step-wise sort for browser viewers until they leave.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dow30tracker/internal/clock"
	"dow30tracker/internal/controller"
	"dow30tracker/internal/marketdata"
	"dow30tracker/internal/metrics"
	"dow30tracker/internal/refresh"
	"dow30tracker/internal/scraper"
	"dow30tracker/internal/sorter"
	"dow30tracker/internal/table"
	"dow30tracker/internal/utils"
	"dow30tracker/models"
	"dow30tracker/visualization"
)

// seedTable builds the starting rows from the persisted file and the live
// constituent list. The live list wins on membership; when it is unavailable
// the persisted rows are used unchanged.
func seedTable(ctx context.Context, logger *utils.Logger, config *utils.Config, tracker *utils.PerformanceTracker, categories []models.Category) ([]models.Entity, error) {
	tracker.StartStep("load persisted table")
	persisted, err := table.Load(config.Tracker.DataFile, categories, func(symbol, category string, err error) {
		logger.Warn("Malformed %s for %s, treating as missing: %v", category, symbol, err)
	})
	tracker.EndStep()
	if err != nil {
		logger.Warn("No persisted table at %s: %v", config.Tracker.DataFile, err)
	} else {
		logger.Info("Loaded %d persisted rows from %s", len(persisted), config.Tracker.DataFile)
	}

	tracker.StartStep("company list")
	s := scraper.NewScraper(logger, config, scraper.NewFetcher(logger, config))
	defer s.Close()

	var live []models.Constituent
	if err := s.PreflightCheck(ctx); err != nil {
		logger.Warn("Preflight check failed, skipping company list: %v", err)
	} else {
		live, err = s.Constituents(ctx)
		if errors.Is(err, scraper.ErrSourceUnavailable) {
			logger.Warn("Company list unavailable, falling back to persisted table: %v", err)
		} else if err != nil {
			logger.Error("Company list failed: %v", err)
		}
	}
	tracker.EndStep()

	rows, fromLive := table.Merge(persisted, live, categories, config.Tracker.Size)
	if len(rows) == 0 {
		return nil, errors.New("no company list and no persisted table to seed from")
	}
	if fromLive {
		logger.Info("Seeded %d rows from the live company list", len(rows))
	} else {
		logger.Info("Seeded %d rows from %s", len(rows), config.Tracker.DataFile)
	}
	return rows, nil
}

// logTable writes the table to the log, one row per line.
func logTable(logger *utils.Logger, store *table.Store) {
	categories := store.Categories()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s %-28s", "Symbol", "Company")
	for _, c := range categories {
		fmt.Fprintf(&sb, " %10s", c.Short)
	}
	for _, row := range store.Rows() {
		name := row.Name
		if len(name) > 28 {
			name = name[:28]
		}
		fmt.Fprintf(&sb, "\n%-6s %-28s", row.Symbol, name)
		for i, c := range categories {
			text := row.Values[i].Label()
			if c.Kind == models.KindText {
				text = row.Values[i].String()
				if len(text) > 10 {
					text = text[:10]
				}
			}
			fmt.Fprintf(&sb, " %10s", text)
		}
	}
	logger.Info("Current table:\n%s", sb.String())
}

func saveTable(logger *utils.Logger, config *utils.Config, store *table.Store) {
	if err := table.SaveStore(config.Tracker.DataFile, store); err != nil {
		logger.Error("Failed to save %s: %v", config.Tracker.DataFile, err)
		return
	}
	logger.Info("Table saved to %s", config.Tracker.DataFile)
}

func run(ctx context.Context, logger *utils.Logger, config *utils.Config, tracker *utils.PerformanceTracker, direction sorter.Direction) error {
	categories := models.DefaultCategories()

	tracker.StartStep("startup")
	rows, err := seedTable(ctx, logger, config, tracker, categories)
	if err != nil {
		tracker.EndStep()
		return err
	}
	store, err := table.NewStore(categories, rows)
	if err != nil {
		tracker.EndStep()
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewPrometheus(registry, "")
	if err != nil {
		tracker.EndStep()
		return err
	}

	source, err := marketdata.New(marketdata.Options{
		Provider:     config.MarketData.Provider,
		YahooBaseURL: config.MarketData.Yahoo.BaseURL,
		Alpaca: marketdata.AlpacaOptions{
			APIKey:    config.MarketData.Alpaca.APIKey,
			APISecret: config.MarketData.Alpaca.APISecret,
			BaseURL:   config.MarketData.Alpaca.BaseURL,
			Feed:      config.MarketData.Alpaca.Feed,
		},
		HTTPClient: &http.Client{Timeout: config.FetchTimeout()},
	})
	if err != nil {
		tracker.EndStep()
		return err
	}
	refresher := refresh.New(store, source, refresh.Options{
		Workers: config.MarketData.Workers,
		Timeout: config.FetchTimeout(),
		Retries: config.MarketData.Retries,
		Backoff: config.FetchBackoff(),
		Tracker: tracker,
	}, logger, collector)

	tracker.StartStep("initial refresh")
	var lastRefresh time.Time
	if report, err := refresher.Refresh(ctx, refresh.Full); err != nil {
		logger.Warn("Initial refresh did not run: %v", err)
	} else {
		lastRefresh = report.Started.Add(report.Duration)
	}
	tracker.EndStep()

	saveTable(logger, config, store)
	logTable(logger, store)
	tracker.EndStep()

	marketClock, err := clock.New(clock.Config{
		Location: config.Location(),
		Open:     config.Market.Open,
		Close:    config.Market.Close,
		Interval: config.RefreshInterval(),
	})
	if err != nil {
		return err
	}

	server := visualization.NewServer(visualization.Options{
		Addr:        config.Visualization.Addr,
		DataDir:     config.Visualization.DataDir,
		ExitOnClose: config.Visualization.ExitOnClose,
		Store:       store,
		Gatherer:    registry,
		Logger:      logger,
		Metrics:     collector,
	})
	if _, err := server.Start(); err != nil {
		return fmt.Errorf("failed to start visualization server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Visualization server shutdown: %v", err)
		}
	}()

	ctrl, err := controller.New(controller.Options{
		Store:       store,
		Clock:       marketClock,
		Refresh:     controller.StartRefresh(refresher, refresh.Prices),
		Presenter:   server,
		Logger:      logger,
		Metrics:     collector,
		Key:         config.Tracker.Category,
		Direction:   direction,
		LastRefresh: lastRefresh,
		AfterRefresh: func(refresh.Report) {
			if config.Tracker.SaveOnFetch {
				saveTable(logger, config, store)
			}
			logTable(logger, store)
		},
	})
	if err != nil {
		return err
	}
	server.OnSelect(ctrl.Select)
	server.OnJoin(ctrl.RequestRedraw)

	if config.Visualization.WaitViewer {
		logger.Info("Waiting for a viewer to connect")
		select {
		case <-server.Connected():
		case <-ctx.Done():
			return nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-server.Closed():
			logger.Info("Last viewer left, stopping")
			cancel()
		case <-runCtx.Done():
		}
	}()

	logger.Info("Animating %s (%s), market %s", ctrl.Key(), ctrl.Direction(), marketClock.Status(time.Now()))
	return ctrl.Run(runCtx, config.TickInterval())
}

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "Path to the YAML configuration (default $CONFIG_PATH or "+utils.DefaultConfigPath+")")
	category := flag.String("category", "", "Initial sort category")
	descending := flag.Bool("descending", false, "Sort descending initially")
	addr := flag.String("addr", "", "Visualization listen address")
	flag.Parse()

	if err := utils.LoadEnv(); err != nil {
		log.Printf("Warning: %v", err)
	}

	config, err := utils.LoadConfig(utils.ConfigPath(*configPath))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *category != "" {
		config.Tracker.Category = *category
	}
	if *addr != "" {
		config.Visualization.Addr = *addr
	}
	direction := sorter.Ascending
	if config.Tracker.Descending || *descending {
		direction = sorter.Descending
	}

	logger, err := utils.NewLogger(config.Log.Dir, config.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Info("Starting Dow 30 tracker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := utils.NewPerformanceTracker()
	if err := run(ctx, logger, config, tracker, direction); err != nil {
		logger.Fatal("Tracker failed: %v", err)
	}

	logger.Info("Performance Report:%s", tracker.GenerateReport())
	logger.Info("Aggregate Performance Report:%s", tracker.GenerateAggregateReport())
	logger.Info("Total execution time: %v", time.Since(startTime).Round(time.Second))
}
