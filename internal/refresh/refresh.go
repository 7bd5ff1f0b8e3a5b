// Package refresh re-fetches market data for every row of the table through
// a bounded worker pool. A batch holds the table's write lease from dispatch
// until its results are applied, and a failure for one ticker never affects
// the others.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"dow30tracker/internal/marketdata"
	"dow30tracker/internal/metrics"
	"dow30tracker/internal/table"
	"dow30tracker/internal/utils"
	"dow30tracker/models"
)

// Scope is re-exported so callers need not import marketdata.
type Scope = marketdata.Scope

const (
	Prices = marketdata.Prices
	Full   = marketdata.Full
)

// Options tunes the worker pool.
type Options struct {
	Workers    int           // Concurrent fetches, default 10
	Timeout    time.Duration // Per attempt, default 10s
	Retries    int           // Extra attempts after the first
	Backoff    time.Duration // Delay before the first retry, doubled after
	MaxBackoff time.Duration // Default 5s
	Tracker    *utils.PerformanceTracker
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	return o
}

// Report summarizes one batch.
type Report struct {
	ID       string
	Scope    Scope
	Started  time.Time
	Duration time.Duration
	Updated  int
	Failed   map[string]error
	// Err combines the per-ticker failures in table order, nil if none.
	Err error
}

// Refresher runs refresh batches against one store.
type Refresher struct {
	store   *table.Store
	source  marketdata.Source
	opts    Options
	logger  *utils.Logger
	metrics metrics.Collector
	now     func() time.Time
}

func New(store *table.Store, source marketdata.Source, opts Options, logger *utils.Logger, m metrics.Collector) *Refresher {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Refresher{
		store:   store,
		source:  source,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Job is a batch running in the background.
type Job struct {
	id     string
	done   chan struct{}
	report Report
}

func (j *Job) ID() string { return j.id }

// Done is closed once results are applied and the lease is released.
func (j *Job) Done() <-chan struct{} { return j.done }

// Poll returns the report if the batch has finished. It never blocks.
func (j *Job) Poll() (Report, bool) {
	select {
	case <-j.done:
		return j.report, true
	default:
		return Report{}, false
	}
}

// Wait blocks until the batch finishes.
func (j *Job) Wait() Report {
	<-j.done
	return j.report
}

// Start takes the write lease and dispatches the batch. It fails only when
// the lease is already held.
func (r *Refresher) Start(ctx context.Context, scope Scope) (*Job, error) {
	lease, err := r.store.Lease()
	if err != nil {
		return nil, fmt.Errorf("start %s refresh: %w", scope, err)
	}

	job := &Job{id: uuid.NewString(), done: make(chan struct{})}
	symbols := r.store.Symbols()
	go func() {
		defer close(job.done)
		job.report = r.run(ctx, job.id, lease, symbols, scope)
	}()
	return job, nil
}

// Refresh runs a batch and waits for it.
func (r *Refresher) Refresh(ctx context.Context, scope Scope) (Report, error) {
	job, err := r.Start(ctx, scope)
	if err != nil {
		return Report{}, err
	}
	return job.Wait(), nil
}

type outcome struct {
	quote models.Quote
	err   error
}

func (r *Refresher) run(ctx context.Context, id string, lease *table.Lease, symbols []string, scope Scope) Report {
	defer lease.Release()

	report := Report{ID: id, Scope: scope, Started: r.now(), Failed: make(map[string]error)}
	r.logger.Info("Refresh %s started: %d tickers, scope %s, %d workers", id, len(symbols), scope, r.opts.Workers)

	results := make([]outcome, len(symbols))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			results[i] = r.fetch(ctx, symbol, scope)
			// Never fail the group: one ticker must not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]models.Quote, 0, len(symbols))
	var errs error
	for i, symbol := range symbols {
		res := results[i]
		if res.err != nil {
			report.Failed[symbol] = res.err
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, res.err))
			continue
		}
		quotes = append(quotes, scope.Filter(res.quote))
	}

	updated, err := lease.ApplyAll(quotes)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	report.Updated = updated
	report.Err = errs
	report.Duration = r.now().Sub(report.Started)

	r.metrics.RecordRefresh(scope.String(), report.Duration, report.Updated, len(report.Failed))
	if r.opts.Tracker != nil {
		r.opts.Tracker.Observe("refresh "+scope.String(), report.Duration)
	}

	if len(report.Failed) > 0 {
		r.logger.Warn("Refresh %s finished in %v: %d updated, %d failed (%s)",
			id, report.Duration.Round(time.Millisecond), report.Updated, len(report.Failed), failedList(report.Failed))
		for _, e := range multierr.Errors(errs) {
			r.logger.Debug("Refresh %s: %v", id, e)
		}
	} else {
		r.logger.Info("Refresh %s finished in %v: %d updated",
			id, report.Duration.Round(time.Millisecond), report.Updated)
	}
	return report
}

// fetch queries one ticker, retrying with exponential backoff. Each attempt
// gets its own deadline so a stalled request cannot hold up the batch.
func (r *Refresher) fetch(ctx context.Context, symbol string, scope Scope) (res outcome) {
	defer func() {
		if p := recover(); p != nil {
			res = outcome{err: fmt.Errorf("panic fetching %s: %v", symbol, p)}
		}
	}()

	var lastErr error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := backoff(r.opts.Backoff, r.opts.MaxBackoff, attempt-1)
			r.logger.Debug("Retrying %s (attempt %d) in %v: %v", symbol, attempt+1, delay, lastErr)
			select {
			case <-ctx.Done():
				return outcome{err: multierr.Append(lastErr, ctx.Err())}
			case <-time.After(delay):
			}
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		q, err := r.source.Quote(attemptCtx, symbol, scope)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			r.metrics.RecordFetch(r.source.Name(), "ok", elapsed)
			q.Symbol = symbol
			return outcome{quote: q}
		}

		if errors.Is(err, context.DeadlineExceeded) {
			r.metrics.RecordFetch(r.source.Name(), "timeout", elapsed)
		} else {
			r.metrics.RecordFetch(r.source.Name(), "error", elapsed)
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, marketdata.ErrNoData) {
			break
		}
	}
	return outcome{err: lastErr}
}

func failedList(failed map[string]error) string {
	symbols := make([]string, 0, len(failed))
	for s := range failed {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return fmt.Sprint(symbols)
}
