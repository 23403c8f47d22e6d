package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/review-scraper/internal/blockdetect"
	"github.com/maltedev/review-scraper/internal/browser"
	"github.com/maltedev/review-scraper/internal/cache"
	"github.com/maltedev/review-scraper/internal/metrics"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/parser"
	"github.com/maltedev/review-scraper/internal/retry"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
)

// PageSource renders pages inside a rotatable session. *browser.Browser
// implements it.
type PageSource interface {
	Initialize(ctx context.Context) error
	Teardown(ctx context.Context) error
	Visit(ctx context.Context, url string) (*browser.Snapshot, error)
}

// BrowserFetcher fetches by rendering the review page in a browser.
type BrowserFetcher struct {
	pages      PageSource
	parser     parser.Parser
	detector   *blockdetect.Detector
	classifier scrapeerr.Classifier
	retrier    *retry.Retrier
	cache      cache.Cache[*models.ReviewScrapeResult]
	logger     *slog.Logger
}

func NewBrowserFetcher(
	pages PageSource,
	p parser.Parser,
	detector *blockdetect.Detector,
	retrier *retry.Retrier,
	results cache.Cache[*models.ReviewScrapeResult],
	logger *slog.Logger,
) *BrowserFetcher {
	if detector == nil {
		detector = blockdetect.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BrowserFetcher{
		pages:      pages,
		parser:     p,
		detector:   detector,
		classifier: scrapeerr.Classifier{Matcher: detector.Match},
		retrier:    retrier.WithClassifier(scrapeerr.Classifier{Matcher: detector.Match}),
		cache:      results,
		logger:     logger.With("component", "browser_fetcher"),
	}
}

func (f *BrowserFetcher) Name() string {
	return parser.SourceBrowser
}

func (f *BrowserFetcher) Initialize(ctx context.Context) error {
	return f.pages.Initialize(ctx)
}

func (f *BrowserFetcher) Teardown(ctx context.Context) error {
	return f.pages.Teardown(ctx)
}

func (f *BrowserFetcher) Fetch(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	opts = opts.WithDefaults()

	if result, ok := f.cached(ctx, opts); ok {
		return result, nil
	}

	start := time.Now()
	result, err := retry.Do(ctx, f.retrier, func(ctx context.Context) (*models.ReviewScrapeResult, error) {
		return f.fetchOnce(ctx, opts)
	})
	if err != nil {
		return nil, err
	}

	if len(result.Reviews) > opts.ReviewsCount {
		result.Reviews = result.Reviews[:opts.ReviewsCount]
	}
	result.Product.URL = opts.ProductURL()
	result.Metadata.ScrapedReviews = len(result.Reviews)
	result.Metadata.Duration = time.Since(start)
	result.Metadata.AdditionalInfo = map[string]string{
		"country":  opts.Country,
		"language": opts.Language,
		"sort_by":  opts.SortBy,
	}

	if f.cache != nil {
		if err := f.cache.Put(ctx, opts.CacheKey(), result); err != nil {
			f.logger.Warn("failed to cache result", "key", opts.CacheKey(), "error", err)
		}
	}

	return result, nil
}

// fetchOnce is one navigation: visit, block check, status check, parse.
func (f *BrowserFetcher) fetchOnce(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	url := opts.ProductURL()
	f.logger.Info("visiting review page", "asin", opts.ASIN, "url", url)

	snap, err := f.pages.Visit(ctx, url)
	if err != nil {
		return nil, f.classifier.Classify(err, scrapeerr.Context{URL: url})
	}

	verdict := f.detector.Inspect(blockdetect.Page{
		URL:          snap.URL,
		RequestedURL: url,
		Title:        snap.Title,
		Body:         snap.Content,
	})
	if verdict.Blocked {
		f.logger.Warn("blocked", "asin", opts.ASIN, "check", verdict.Check, "reason", verdict.Reason)
		return nil, verdict.Err()
	}

	if snap.StatusCode >= 400 {
		return nil, f.classifier.Classify(
			fmt.Errorf("GET %s: status %d", url, snap.StatusCode),
			scrapeerr.Context{StatusCode: snap.StatusCode, Body: snap.Content, URL: snap.URL},
		)
	}

	return f.parser.Parse(snap.Content, opts.ASIN)
}

// Lookup peeks the cache and records the hit or miss. Fetch repeats the
// check without recording it.
func (f *BrowserFetcher) Lookup(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, bool) {
	result, ok := f.cached(ctx, opts.WithDefaults())
	metrics.RecordCacheLookup(ok)
	return result, ok
}

func (f *BrowserFetcher) cached(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, bool) {
	if f.cache == nil {
		return nil, false
	}

	result, ok, err := f.cache.Get(ctx, opts.CacheKey())
	if err != nil {
		f.logger.Warn("cache lookup failed", "key", opts.CacheKey(), "error", err)
		return nil, false
	}
	return result, ok
}

func (f *BrowserFetcher) ClearCache(ctx context.Context, key string) error {
	if f.cache == nil {
		return nil
	}
	if err := f.cache.Clear(ctx, key); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
