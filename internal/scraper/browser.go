package scraper

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BrowserOptions selects between a remote browser (e.g. browserless) and a
// locally launched Chrome.
type BrowserOptions struct {
	RemoteURL string
	Visible   bool
}

// NewBrowser allocates one browser session. The returned cancel func closes
// the tab (and a locally launched browser) and must always be called.
func NewBrowser(ctx context.Context, opts BrowserOptions) (context.Context, context.CancelFunc, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", !opts.Visible),
			chromedp.Flag("no-sandbox", true),            // Required for running as root on Linux
			chromedp.Flag("disable-gpu", true),           // Recommended for headless Linux
			chromedp.Flag("disable-dev-shm-usage", true), // Avoid /dev/shm issues in containers
			chromedp.UserAgent(userAgent),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	// Run without actions starts the session so that later per-step
	// timeouts on derived contexts do not tear the browser down.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("starting browser: %w", err)
	}

	return browserCtx, cancel, nil
}
