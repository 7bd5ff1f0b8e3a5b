// Package controller drives the animation: one sorter step per tick, a
// background refresh when the sort has settled and the market clock allows
// it, and full redraws whenever the viewer changes the sort.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dow30tracker/internal/metrics"
	"dow30tracker/internal/refresh"
	"dow30tracker/internal/sorter"
	"dow30tracker/internal/table"
	"dow30tracker/internal/utils"
	"dow30tracker/models"
)

// Options wires a Controller.
type Options struct {
	Store     *table.Store
	Clock     Clock
	Refresh   RefreshFunc
	Presenter Presenter
	Logger    *utils.Logger
	Metrics   metrics.Collector

	Key       string
	Direction sorter.Direction
	// LastRefresh is when the table was last refreshed, usually the startup
	// batch. Zero makes the first refresh due immediately.
	LastRefresh time.Time
	// AfterRefresh runs on the tick that observes a finished batch.
	AfterRefresh func(refresh.Report)
	Now          func() time.Time
}

// Controller is the tick-driven state machine. Tick and Run must be called
// from one goroutine; Select and RequestRedraw are safe from any.
type Controller struct {
	store     *table.Store
	clock     Clock
	startJob  RefreshFunc
	presenter Presenter
	logger    *utils.Logger
	metrics   metrics.Collector
	after     func(refresh.Report)
	now       func() time.Time

	sorter      *sorter.StepSort
	job         Poller
	lastRefresh time.Time
	highlighted []int

	mu      sync.Mutex
	state   State
	pending []string
	redraw  bool
}

func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Clock == nil || opts.Presenter == nil || opts.Refresh == nil {
		return nil, fmt.Errorf("controller: store, clock, presenter and refresh are required")
	}
	if _, ok := opts.Store.Category(opts.Key); !ok {
		return nil, fmt.Errorf("controller: sort key %q: %w", opts.Key, table.ErrUnknownCategory)
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		store:       opts.Store,
		clock:       opts.Clock,
		startJob:    opts.Refresh,
		presenter:   opts.Presenter,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		after:       opts.AfterRefresh,
		now:         opts.Now,
		sorter:      sorter.New(opts.Store, opts.Key, opts.Direction),
		lastRefresh: opts.LastRefresh,
	}
	c.setState(Stepping)
	return c, nil
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.logger.Debug("Controller state: %s", s)
	}
	c.metrics.SetState(s.String())
}

// Key returns the active sort category.
func (c *Controller) Key() string { return c.sorter.Key() }

// Direction returns the active sort order.
func (c *Controller) Direction() sorter.Direction { return c.sorter.Direction() }

// LastRefresh returns when the last batch joined.
func (c *Controller) LastRefresh() time.Time { return c.lastRefresh }

// Select queues a category chosen by the viewer. Choosing the active
// category again flips the direction.
func (c *Controller) Select(category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, category)
}

// RequestRedraw queues a full frame, e.g. for a viewer that just connected.
func (c *Controller) RequestRedraw() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redraw = true
}

func (c *Controller) takeRequests() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, redraw := c.pending, c.redraw
	c.pending, c.redraw = nil, false
	return pending, redraw
}

// applySelections returns true if the sort changed.
func (c *Controller) applySelections(selections []string) bool {
	changed := false
	for _, category := range selections {
		if _, ok := c.store.Category(category); !ok {
			c.logger.Warn("Ignoring selection of unknown category %q", category)
			continue
		}
		if category == c.sorter.Key() {
			c.sorter.Toggle()
		} else {
			c.sorter.SetKey(category)
		}
		changed = true
		c.logger.Info("Sorting by %s, %s", c.sorter.Key(), c.sorter.Direction())
	}
	if changed {
		c.highlighted = nil
	}
	return changed
}

// Tick advances the state machine by one step. It returns ErrSurfaceClosed
// once the presenter reports it; every other failure is logged.
func (c *Controller) Tick(ctx context.Context) error {
	now := c.now()
	selections, redraw := c.takeRequests()
	if c.applySelections(selections) {
		redraw = true
		if c.State() == Idle {
			c.setState(Stepping)
		}
	}

	if c.State() == Refreshing {
		report, done := c.job.Poll()
		if !done {
			if redraw {
				return c.pushFrame(now)
			}
			return nil
		}
		c.finishRefresh(now, report)
		return c.pushFrame(now)
	}

	if redraw {
		return c.pushFrame(now)
	}

	if c.sorter.IsComplete() {
		if c.clock.ShouldRefresh(now, c.lastRefresh) {
			c.beginRefresh(ctx)
			return nil
		}
		c.setState(Idle)
		return nil
	}

	return c.step()
}

func (c *Controller) beginRefresh(ctx context.Context) {
	job, err := c.startJob(ctx)
	if err != nil {
		c.logger.Error("Failed to start refresh: %v", err)
		return
	}
	c.job = job
	c.setState(Refreshing)
	c.logger.Info("Refresh started, market %s", c.clock.Status(c.now()))
}

func (c *Controller) finishRefresh(now time.Time, report refresh.Report) {
	c.job = nil
	c.lastRefresh = now
	c.highlighted = nil
	c.sorter.Reset()
	c.setState(Stepping)
	if c.after != nil {
		c.after(report)
	}
}

func (c *Controller) step() error {
	res, err := c.sorter.Step()
	if err != nil {
		c.metrics.RecordStep("error")
		if errors.Is(err, table.ErrLeased) {
			c.logger.Debug("Step deferred: %v", err)
		} else {
			c.logger.Error("Step failed: %v", err)
		}
		return nil
	}
	c.metrics.RecordStep(res.String())

	switch res {
	case sorter.Swapped:
		pair, _ := c.sorter.LastSwap()
		return c.pushUpdate([]int{pair.Left, pair.Right})
	default:
		c.setState(Idle)
		stats := c.sorter.Stats()
		c.logger.Debug("Sorted by %s %s: %d comparisons, %d swaps", c.sorter.Key(), c.sorter.Direction(), stats.Comparisons, stats.Swaps)
		return c.pushUpdate(nil)
	}
}

func (c *Controller) bar(row models.Entity, col int) Bar {
	v := row.Values[col]
	return Bar{Symbol: row.Symbol, Name: row.Name, Value: v.Float(), Label: v.Label()}
}

func (c *Controller) column() int {
	for i, cat := range c.store.Categories() {
		if cat.Name == c.sorter.Key() {
			return i
		}
	}
	return -1
}

// Frame builds a full redraw of the current table.
func (c *Controller) Frame(now time.Time) Frame {
	categories := c.store.Categories()
	names := make([]string, len(categories))
	for i, cat := range categories {
		names[i] = cat.Name
	}

	col := c.column()
	rows := c.store.Rows()
	bars := make([]Bar, len(rows))
	for i, row := range rows {
		bars[i] = c.bar(row, col)
	}

	return Frame{
		Category:   c.sorter.Key(),
		Direction:  c.sorter.Direction().String(),
		Categories: names,
		State:      c.State().String(),
		Market:     c.clock.Status(now),
		Refreshed:  c.lastRefresh,
		Bars:       bars,
	}
}

func (c *Controller) pushFrame(now time.Time) error {
	c.highlighted = nil
	return c.present(c.presenter.Redraw(c.Frame(now)))
}

// pushUpdate highlights positions and clears the previous highlight.
func (c *Controller) pushUpdate(positions []int) error {
	col := c.column()
	update := Update{Category: c.sorter.Key()}
	seen := make(map[int]bool, 4)
	add := func(i int, highlight bool) {
		if seen[i] {
			return
		}
		row, err := c.store.Row(i)
		if err != nil {
			return
		}
		seen[i] = true
		b := c.bar(row, col)
		b.Highlight = highlight
		update.Bars = append(update.Bars, IndexedBar{Index: i, Bar: b})
	}
	for _, i := range positions {
		add(i, true)
	}
	for _, i := range c.highlighted {
		add(i, false)
	}
	c.highlighted = positions

	if len(update.Bars) == 0 {
		return nil
	}
	return c.present(c.presenter.Update(update))
}

func (c *Controller) present(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSurfaceClosed) {
		return ErrSurfaceClosed
	}
	c.logger.Warn("Presenter error: %v", err)
	return nil
}

// Run pushes an initial frame, then ticks every interval until ctx is done
// or the surface closes. Both end the loop without error.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if err := c.pushFrame(c.now()); errors.Is(err, ErrSurfaceClosed) {
		c.logger.Info("Render surface closed")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Animation loop stopped: %v", ctx.Err())
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); errors.Is(err, ErrSurfaceClosed) {
				c.logger.Info("Render surface closed")
				return nil
			}
		}
	}
}
