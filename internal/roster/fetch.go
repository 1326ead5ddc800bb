package roster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

const DefaultFetchTimeout = 30 * time.Second

// FetchOptions controls how the roster page is rendered.
type FetchOptions struct {
	// ProfileDir is a Chromium user data directory holding a logged-in
	// roster session. Empty uses a throwaway profile.
	ProfileDir string

	// Headless runs the browser without a window. A visible window is useful
	// for logging in to the roster site the first time.
	Headless bool

	// Timeout bounds the whole fetch. Zero means DefaultFetchTimeout.
	Timeout time.Duration
}

// Fetcher renders roster pages in Chromium and returns their HTML.
type Fetcher struct {
	logger *slog.Logger
	opts   FetchOptions
}

// NewFetcher creates a Fetcher.
func NewFetcher(logger *slog.Logger, opts FetchOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	return &Fetcher{logger: logger, opts: opts}
}

// FetchHTML navigates to url, waits for the schedule table to render and
// returns the page's outer HTML.
func (f *Fetcher) FetchHTML(parentCtx context.Context, url string) (string, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if f.opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(f.opts.ProfileDir))
	}
	if !f.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer timeoutCancel()

	f.logger.Debug("Rendering roster page", "url", url, "profile", f.opts.ProfileDir)

	var page string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady(`table tbody tr`, chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("failed to render roster page: %w", err)
	}

	f.logger.Info("Fetched roster page", "url", url, "bytes", len(page))
	return page, nil
}
