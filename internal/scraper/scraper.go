package scraper

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/maltedev/review-scraper/internal/models"
)

var (
	ErrInvalidURL     = errors.New("invalid Amazon URL")
	ErrInvalidRequest = errors.New("invalid fetch request")
)

var (
	productURLPattern = regexp.MustCompile(`(?i)amazon\.[a-z.]+/(?:.*?/)?(?:dp|product-reviews|gp/product)/([A-Z0-9]{10})`)
	bareIDPattern     = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)
)

// Fetcher is one way of obtaining review data. Initialize and Teardown
// bracket a session so that fetchers can be rotated by the session
// manager.
type Fetcher interface {
	Name() string
	Initialize(ctx context.Context) error
	Fetch(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error)
	Teardown(ctx context.Context) error
}

// CachedFetcher is implemented by fetchers that keep a response cache.
type CachedFetcher interface {
	Lookup(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, bool)
	ClearCache(ctx context.Context, key string) error
}

// ResultStore persists successful fetches.
type ResultStore interface {
	PublishReviewsScraped(ctx context.Context, result *models.ReviewScrapeResult) error
}

// ExtractASIN accepts either a bare product id or an Amazon product or
// review URL.
func ExtractASIN(target string) (string, error) {
	target = strings.TrimSpace(target)

	if bareIDPattern.MatchString(target) {
		return target, nil
	}

	matches := productURLPattern.FindStringSubmatch(target)
	if len(matches) < 2 {
		return "", ErrInvalidURL
	}

	return strings.ToUpper(matches[1]), nil
}
