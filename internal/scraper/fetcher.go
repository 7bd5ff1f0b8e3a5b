package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"dow30tracker/internal/utils"
)

// Fetcher returns the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// checker is implemented by fetchers that can verify their runtime before
// the first real request.
type checker interface {
	checks() []check
}

type check struct {
	name string
	run  func(ctx context.Context) error
}

// HTTPFetcher downloads pages with a plain HTTP GET.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status code: %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// BrowserFetcher renders pages in headless Chrome.
type BrowserFetcher struct {
	logger      *utils.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	userAgent   string
}

// NewBrowserFetcher starts a browser allocator. The browser itself launches
// on first use.
func NewBrowserFetcher(logger *utils.Logger, config *utils.Config) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.NoSandbox,
		chromedp.Flag("headless", config.Scraper.Browser.Headless),
		chromedp.Flag("enable-logging", config.Scraper.Browser.Debug),
		chromedp.UserAgent(config.Scraper.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debug))

	b := &BrowserFetcher{
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		userAgent:   config.Scraper.UserAgent,
	}

	// Consent and cookie pop-ups would otherwise block navigation.
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if ev, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			logger.Debug("Dialog detected: %s", ev.Message)
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					logger.Debug("Failed to handle dialog: %v", err)
				}
			}()
		}
	})
	return b
}

// runCtx derives a browser context that is also cancelled with ctx.
func (b *BrowserFetcher) runCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	runCtx, cancel := b.runCtx(ctx, 60*time.Second)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}

func (b *BrowserFetcher) checks() []check {
	return []check{
		{"Browser Launch", b.testBrowserLaunch},
		{"Network Settings", b.testNetworkSettings},
	}
}

func (b *BrowserFetcher) testBrowserLaunch(ctx context.Context) error {
	runCtx, cancel := b.runCtx(ctx, 10*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate("about:blank"))
}

func (b *BrowserFetcher) testNetworkSettings(ctx context.Context) error {
	runCtx, cancel := b.runCtx(ctx, 10*time.Second)
	defer cancel()
	return chromedp.Run(runCtx,
		network.Enable(),
		network.SetCacheDisabled(true),
		emulation.SetUserAgentOverride(b.userAgent),
	)
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Cancel(ctx); err != nil {
		b.logger.Debug("Error during graceful browser shutdown: %v", err)
	}
	b.cancel()
	b.allocCancel()
	b.logger.Debug("Browser closed")
}
