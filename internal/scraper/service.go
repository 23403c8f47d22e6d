package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/review-scraper/internal/metrics"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/ratelimit"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/maltedev/review-scraper/internal/session"
)

type Config struct {
	OperationTimeout time.Duration
	Session          session.Config
}

// Service gates every fetch through the rate limiter and the session
// manager. It owns the session lifecycle of its fetcher.
type Service struct {
	fetcher  Fetcher
	limiter  ratelimit.RateLimiter
	sessions *session.Manager
	store    ResultStore
	timeout  time.Duration
	logger   *slog.Logger
}

// NewService wires fetcher as the session resource. store may be nil.
func NewService(fetcher Fetcher, limiter ratelimit.RateLimiter, store ResultStore, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		fetcher:  fetcher,
		limiter:  limiter,
		sessions: session.NewManager(fetcher, cfg.Session, logger),
		store:    store,
		timeout:  cfg.OperationTimeout,
		logger:   logger.With("component", "scraper", "source", fetcher.Name()),
	}
}

func (s *Service) Start(ctx context.Context) error {
	return s.sessions.Start(ctx)
}

func (s *Service) Close(ctx context.Context) error {
	return s.sessions.Close(ctx)
}

func (s *Service) SessionStats() session.Stats {
	return s.sessions.Stats()
}

// FetchResult returns reviews for targetID, an ASIN or product URL. Every
// failure is a *scrapeerr.Error; invalid input also matches
// ErrInvalidRequest.
func (s *Service) FetchResult(ctx context.Context, targetID string, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	start := time.Now()
	source := s.fetcher.Name()

	asin, err := ExtractASIN(targetID)
	if err != nil {
		return nil, invalidRequest(err)
	}
	opts.ASIN = asin
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, invalidRequest(err)
	}

	timeout := s.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if cf, ok := s.fetcher.(CachedFetcher); ok {
		if result, hit := cf.Lookup(ctx, opts); hit {
			s.logger.Debug("cache hit", "key", opts.CacheKey())
			metrics.FetchesTotal.WithLabelValues(source, "cached").Inc()
			return result, nil
		}
	}

	result, err := s.gatedFetch(ctx, opts)
	metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		se := scrapeerr.Classify(err, scrapeerr.Context{})
		metrics.FetchesTotal.WithLabelValues(source, se.Kind.String()).Inc()
		s.logger.Error("fetch failed",
			"asin", opts.ASIN,
			"kind", se.Kind,
			"retryable", se.Retryable(),
			"error", se.Error())
		return nil, se
	}
	metrics.FetchesTotal.WithLabelValues(source, "success").Inc()

	s.logger.Info("fetch completed",
		"asin", opts.ASIN,
		"reviews", len(result.Reviews),
		"duration", time.Since(start))

	if s.store != nil {
		if err := s.store.PublishReviewsScraped(ctx, result); err != nil {
			s.logger.Error("failed to persist result", "asin", opts.ASIN, "error", err)
		}
	}

	return result, nil
}

func (s *Service) gatedFetch(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	if err := s.limiter.BeforeRequest(ctx); err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindTimeout, "cancelled while waiting for rate limiter", err)
	}

	release, err := s.sessions.Enter(ctx)
	if err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindUnknown, "session unavailable", err)
	}

	result, fetchErr := s.fetcher.Fetch(ctx, opts)
	release()
	s.limiter.AfterRequest()

	// rotation must finish even if the caller's deadline has passed
	if _, err := s.sessions.MaybeRotate(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("session rotation failed", "error", err)
	}

	return result, fetchErr
}

// ClearCache removes one cached result, or all of them when key is empty.
func (s *Service) ClearCache(ctx context.Context, key string) error {
	cf, ok := s.fetcher.(CachedFetcher)
	if !ok {
		return nil
	}
	return cf.ClearCache(ctx, key)
}

func invalidRequest(err error) *scrapeerr.Error {
	return scrapeerr.Wrap(scrapeerr.KindUnknown, "invalid request", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
}
