package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"realestate-crawler/models"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ChromeOptions configures ChromeBrowser.
type ChromeOptions struct {
	// ExecPath is the browser binary. Empty means FindChromeBinary().
	ExecPath string
	Headless bool
	// PageTimeout bounds each navigation or extraction.
	PageTimeout time.Duration
	// Settle is how long to wait after navigation for scripts to render.
	Settle    time.Duration
	UserAgent string
}

// ChromeBrowser drives a local Chrome/Chromium through chromedp. Each
// session is a tab of one shared browser process.
type ChromeBrowser struct {
	opts        ChromeOptions
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancel      context.CancelFunc
}

// NewChromeBrowser starts the browser process.
func NewChromeBrowser(opts ChromeOptions) (*ChromeBrowser, error) {
	if opts.ExecPath == "" {
		opts.ExecPath = FindChromeBinary()
	}
	if opts.PageTimeout == 0 {
		opts.PageTimeout = 90 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	// Suppress chromedp log noise
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("start browser %q: %w", opts.ExecPath, err)
	}

	return &ChromeBrowser{opts: opts, browserCtx: browserCtx, cancelAlloc: cancelAlloc, cancel: cancel}, nil
}

// OpenSession opens a new tab.
func (b *ChromeBrowser) OpenSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromeSession{opts: b.opts, tabCtx: tabCtx, cancel: cancel}, nil
}

// Close stops the browser process.
func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.cancelAlloc()
	return nil
}

type chromeSession struct {
	opts   ChromeOptions
	tabCtx context.Context
	cancel context.CancelFunc
	url    string
}

// run executes actions in the tab, bounded by the page timeout and by ctx.
func (s *chromeSession) run(ctx context.Context, fn func(runCtx context.Context) error) error {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.opts.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := fn(runCtx)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromeSession) Navigate(ctx context.Context, target string) error {
	s.url = target
	return s.run(ctx, func(runCtx context.Context) error {
		resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(target))
		if err != nil {
			return &models.NavigationError{Site: host(target), URL: target, Err: err}
		}
		if resp != nil {
			switch resp.Status {
			case 429, 503:
				return &models.RateLimitedError{Source: host(target), RetryAfter: retryAfter(resp.Headers)}
			}
			if resp.Status >= 400 {
				return &models.NavigationError{Site: host(target), URL: target, Err: fmt.Errorf("status %d", resp.Status)}
			}
		}
		if s.opts.Settle > 0 {
			return chromedp.Run(runCtx, chromedp.Sleep(s.opts.Settle))
		}
		return nil
	})
}

func (s *chromeSession) ApplyFilter(ctx context.Context, a FilterAction) error {
	return s.run(ctx, func(runCtx context.Context) error {
		actions := []chromedp.Action{chromedp.WaitVisible(a.Selector, chromedp.ByQuery)}
		if a.Value != "" {
			actions = append(actions, chromedp.SendKeys(a.Selector, a.Value, chromedp.ByQuery))
		} else {
			actions = append(actions, chromedp.Click(a.Selector, chromedp.ByQuery))
		}
		if err := chromedp.Run(runCtx, actions...); err != nil {
			return s.selectorError(a.Selector, err)
		}
		if a.WaitFor != "" {
			if err := chromedp.Run(runCtx, chromedp.WaitReady(a.WaitFor, chromedp.ByQuery)); err != nil {
				return s.selectorError(a.WaitFor, err)
			}
		}
		return nil
	})
}

func (s *chromeSession) ExtractPageContent(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "html"
	}
	var html string
	err := s.run(ctx, func(runCtx context.Context) error {
		err := chromedp.Run(runCtx,
			chromedp.WaitReady(selector, chromedp.ByQuery),
			chromedp.OuterHTML(selector, &html, chromedp.ByQuery),
		)
		if err != nil {
			return s.selectorError(selector, err)
		}
		return nil
	})
	return html, err
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}

func (s *chromeSession) selectorError(selector string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &models.NavigationError{Site: host(s.url), URL: s.url, Selector: selector, Err: err}
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func retryAfter(h network.Headers) time.Duration {
	for k, v := range h {
		if k != "Retry-After" && k != "retry-after" {
			continue
		}
		if s, ok := v.(string); ok {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

// FindChromeBinary locates a Chrome/Chromium binary, or returns "" to let
// chromedp use its own lookup.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
