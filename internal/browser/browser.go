package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/playwright-community/playwright-go"
)

// Browser owns one Chromium process. Each Initialize opens a fresh browser
// context, which is the unit rotated by the session manager.
type Browser struct {
	opts   *Options
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	uaIndex int
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgents     []string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	Humanize       bool
}

// Snapshot is the rendered state of a page after navigation.
type Snapshot struct {
	URL          string
	RequestedURL string
	Title        string
	Content      string
	StatusCode   int
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  30 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
		Humanize: true,
	}
}

func New(opts *Options, logger *slog.Logger) *Browser {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Browser{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

// Initialize launches Chromium on first use and opens a new browser
// context with the next user agent in rotation.
func (b *Browser) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.launch(); err != nil {
		return err
	}

	userAgent := b.nextUserAgent()
	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(b.opts.Locale),
		TimezoneId:        playwright.String(b.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: b.headers(),
	}
	if userAgent != "" {
		contextOpts.UserAgent = playwright.String(userAgent)
	}

	bctx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	b.context = bctx

	b.logger.Debug("browser context created", "user_agent", userAgent)
	return nil
}

// Teardown closes the current browser context, keeping Chromium running.
func (b *Browser) Teardown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.context == nil {
		return nil
	}

	err := b.context.Close()
	b.context = nil
	if err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

func (b *Browser) launch() error {
	if b.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", b.opts.ViewportWidth, b.opts.ViewportHeight),
		},
	}

	if b.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: b.opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.pw = pw
	b.browser = browser
	return nil
}

// Visit opens a page in the current context, navigates to url and returns
// what was rendered. Navigation failures come back classified.
func (b *Browser) Visit(ctx context.Context, url string) (*Snapshot, error) {
	page, err := b.newPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	timeout := b.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, scrapeerr.Wrap(scrapeerr.KindTimeout, "no time left to navigate", ctx.Err())
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, scrapeerr.Wrap(scrapeerr.KindTimeout, "navigation timed out", err)
		}
		return nil, scrapeerr.Wrap(scrapeerr.KindNetwork, "navigation failed", err)
	}

	if b.opts.Humanize {
		if err := b.HumanizeInteraction(ctx, page); err != nil {
			b.logger.Debug("humanize step failed", "error", err)
		}
	}

	snap := &Snapshot{
		URL:          page.URL(),
		RequestedURL: url,
	}
	if resp != nil {
		snap.StatusCode = resp.Status()
	}

	if snap.Title, err = page.Title(); err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindNetwork, "failed to read page title", err)
	}
	if snap.Content, err = page.Content(); err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindNetwork, "failed to read page content", err)
	}

	return snap, nil
}

func (b *Browser) newPage() (playwright.Page, error) {
	b.mu.Lock()
	bctx := b.context
	b.mu.Unlock()

	if bctx == nil {
		return nil, scrapeerr.New(scrapeerr.KindUnknown, "browser session is not initialized")
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindNetwork, "failed to create new page", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	return page, nil
}

// Close stops the context, the browser and playwright.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
		b.context = nil
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		b.browser = nil
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		b.pw = nil
	}

	return errors.Join(errs...)
}

// HumanizeInteraction moves the mouse and scrolls a little. It is an
// optional step between navigation and extraction.
func (b *Browser) HumanizeInteraction(ctx context.Context, page playwright.Page) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := page.Mouse().Move(x, y); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := pause(ctx, time.Millisecond*time.Duration(200+i*100)); err != nil {
			return err
		}
	}

	if _, err := page.Evaluate(`window.scrollBy(0, Math.random() * 300)`); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// nextUserAgent must be called with mu held.
func (b *Browser) nextUserAgent() string {
	if len(b.opts.UserAgents) == 0 {
		return ""
	}
	ua := b.opts.UserAgents[b.uaIndex%len(b.opts.UserAgents)]
	b.uaIndex++
	return ua
}

func (b *Browser) headers() map[string]string {
	headers := make(map[string]string, len(b.opts.ExtraHeaders)+1)
	for k, v := range b.opts.ExtraHeaders {
		headers[k] = v
	}
	if b.opts.AcceptLanguage != "" {
		headers["Accept-Language"] = b.opts.AcceptLanguage
	}
	return headers
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
