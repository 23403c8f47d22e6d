package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/review-scraper/internal/blockdetect"
	"github.com/maltedev/review-scraper/internal/browser"
	"github.com/maltedev/review-scraper/internal/cache"
	"github.com/maltedev/review-scraper/internal/config"
	"github.com/maltedev/review-scraper/internal/jobclient"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/parser"
	"github.com/maltedev/review-scraper/internal/ratelimit"
	"github.com/maltedev/review-scraper/internal/retry"
	"github.com/maltedev/review-scraper/internal/scraper"
	"github.com/maltedev/review-scraper/internal/session"
	"github.com/redis/go-redis/v9"
)

// Deps are the optional shared clients a service can be built with.
type Deps struct {
	Redis *redis.Client
	Store scraper.ResultStore
}

// Service is a started scraper service plus whatever must be closed with
// it.
type Service struct {
	*scraper.Service
	closers []func() error
}

// Close ends the session and releases the fetcher's resources.
func (s *Service) Close(ctx context.Context) error {
	errs := []error{s.Service.Close(ctx)}
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewService wires the configured fetch path behind the rate limiter and
// the session manager, and starts the first session.
func NewService(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	op := cfg.Operation

	results, err := NewResultCache(cfg, deps.Redis, logger)
	if err != nil {
		return nil, err
	}

	retrier := retry.New(retry.Config{
		MaxAttempts: op.MaxAttempts,
		BaseDelay:   op.BaseDelay,
	}, logger)

	svc := &Service{}
	var fetcher scraper.Fetcher

	switch cfg.Scraper.Mode {
	case config.ModeAPI:
		client := jobclient.New(jobclient.Config{
			BaseURL:                  cfg.JobAPI.BaseURL,
			Token:                    cfg.JobAPI.Token,
			DatasetID:                cfg.JobAPI.DatasetID,
			RequestTimeout:           op.RequestTimeout,
			OperationTimeout:         op.OperationTimeout,
			PollInterval:             op.PollInterval,
			MaxPollAttempts:          op.MaxPollAttempts,
			MaxConsecutivePollErrors: op.MaxConsecutivePollErrors,
			OnStateChange: func(job jobclient.Job, state jobclient.State) {
				logger.Debug("job state changed", "job_id", job.ID, "state", state)
			},
		}, retrier, results, logger)
		fetcher = scraper.NewAPIFetcher(client)

	case config.ModeBrowser:
		b := browser.New(browserOptions(cfg), logger)
		svc.closers = append(svc.closers, b.Close)
		fetcher = scraper.NewBrowserFetcher(b, parser.NewReviewParser(), blockdetect.New(), retrier, results, logger)

	default:
		return nil, fmt.Errorf("unknown scraper mode %q", cfg.Scraper.Mode)
	}

	svc.Service = scraper.NewService(
		fetcher,
		ratelimit.New(op.RateLimitMin, op.RateLimitMax),
		deps.Store,
		scraper.Config{
			OperationTimeout: op.OperationTimeout,
			Session: session.Config{
				MaxRequests:      op.MaxRequestsPerSession,
				RotationInterval: op.SessionRotationInterval,
			},
		},
		logger,
	)

	if err := svc.Start(ctx); err != nil {
		for _, c := range svc.closers {
			_ = c()
		}
		return nil, fmt.Errorf("failed to start %s session: %w", fetcher.Name(), err)
	}

	return svc, nil
}

// NewResultCache picks the configured cache backend.
func NewResultCache(cfg *config.Config, client *redis.Client, logger *slog.Logger) (cache.Cache[*models.ReviewScrapeResult], error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		if client == nil {
			return nil, errors.New("redis cache backend requires a redis client")
		}
		return cache.NewRedis[*models.ReviewScrapeResult](client, cache.RedisConfig{
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Operation.CacheTTL,
		}, logger), nil
	default:
		return cache.NewMemory[*models.ReviewScrapeResult](cfg.Operation.CacheTTL), nil
	}
}

func browserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.Humanize = cfg.Browser.Humanize
	opts.ProxyServer = cfg.Scraper.ProxyServer
	if len(cfg.Scraper.UserAgents) > 0 {
		opts.UserAgents = cfg.Scraper.UserAgents
	}
	return opts
}
