package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/maltedev/review-scraper/internal/cache"
	"github.com/maltedev/review-scraper/internal/metrics"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/retry"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
)

const SourceAPI = "api"

// Config holds the job service endpoint and polling policy.
type Config struct {
	BaseURL   string
	Token     string
	DatasetID string

	// RequestTimeout bounds each HTTP call; OperationTimeout bounds the whole
	// submit/poll/fetch sequence including retries.
	RequestTimeout   time.Duration
	OperationTimeout time.Duration

	PollInterval    time.Duration
	MaxPollAttempts int
	// MaxConsecutivePollErrors ends polling after this many failed status
	// calls in a row; 0 disables the limit.
	MaxConsecutivePollErrors int

	// OnStateChange, if set, observes every state transition.
	OnStateChange func(job Job, state State)
}

// Client drives trigger -> poll -> fetch against an asynchronous scraping
// service and caches transformed results.
type Client struct {
	cfg        Config
	retrier    *retry.Retrier
	cache      cache.Cache[*models.ReviewScrapeResult]
	classifier scrapeerr.Classifier
	logger     *slog.Logger

	mu     sync.RWMutex
	client *http.Client
}

func New(cfg Config, retrier *retry.Retrier, results cache.Cache[*models.ReviewScrapeResult], logger *slog.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		retrier: retrier,
		cache:   results,
		logger:  logger.With("component", "job_client"),
		client:  newHTTPClient(),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Initialize swaps in a fresh transport so the next session starts with
// new connections.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	old := c.client
	c.client = newHTTPClient()
	c.mu.Unlock()

	if old != nil {
		old.CloseIdleConnections()
	}
	return nil
}

func (c *Client) Teardown(ctx context.Context) error {
	c.httpClient().CloseIdleConnections()
	return nil
}

// Lookup returns a fresh cached result without touching the network and
// records the hit or miss.
func (c *Client) Lookup(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, bool) {
	result, ok := c.cached(ctx, opts)
	metrics.RecordCacheLookup(ok)
	return result, ok
}

func (c *Client) cached(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, bool) {
	if c.cache == nil {
		return nil, false
	}

	key := opts.CacheKey()
	result, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	return result, ok
}

// ClearCache removes one entry, or everything when key is empty.
func (c *Client) ClearCache(ctx context.Context, key string) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Clear(ctx, key); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// FetchResult returns the cached result for opts when fresh; otherwise it
// runs the whole job sequence under the retrier and caches the outcome.
// Failures are always *scrapeerr.Error.
func (c *Client) FetchResult(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	opts = opts.WithDefaults()
	key := opts.CacheKey()

	if result, ok := c.cached(ctx, opts); ok {
		c.logger.Debug("serving cached result", "key", key)
		return result, nil
	}

	timeout := c.cfg.OperationTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := retry.Do(ctx, c.retrier, func(ctx context.Context) (*models.ReviewScrapeResult, error) {
		return c.run(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	result.Metadata.Duration = time.Since(start)

	if c.cache != nil {
		if err := c.cache.Put(ctx, key, result); err != nil {
			c.logger.Warn("failed to cache result", "key", key, "error", err)
		}
	}

	return result, nil
}

// run is one attempt of the state machine. Nothing survives between
// attempts.
func (c *Client) run(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	seq := &sequence{observer: c.cfg.OnStateChange}

	jobID, err := c.submit(ctx, opts)
	if err != nil {
		return nil, err
	}
	seq.job = Job{ID: jobID, Status: StatusRunning}
	seq.advance(StateSubmitted)

	if err := c.awaitCompletion(ctx, seq); err != nil {
		return nil, err
	}

	payload, err := c.fetchPayload(ctx, jobID)
	if err != nil {
		seq.advance(StateFailed)
		return nil, err
	}
	seq.advance(StateCompleted)

	return transform(payload, opts, jobID), nil
}

func (c *Client) submit(ctx context.Context, opts models.FetchOptions) (string, error) {
	var query url.Values
	if c.cfg.DatasetID != "" {
		query = url.Values{"dataset_id": {c.cfg.DatasetID}}
	}

	body := triggerRequest{Target: target{
		URL:          opts.ProductURL(),
		ASIN:         opts.ASIN,
		Country:      opts.Country,
		Language:     opts.Language,
		ReviewsCount: opts.ReviewsCount,
		SortBy:       wireSortBy(opts.SortBy),
	}}

	var resp triggerResponse
	if err := c.call(ctx, http.MethodPost, "/jobs", query, body, &resp); err != nil {
		return "", err
	}

	id := resp.id()
	if id == "" {
		return "", scrapeerr.New(scrapeerr.KindUnknown, "trigger response did not include a job id")
	}

	c.logger.Info("job submitted", "job_id", id, "asin", opts.ASIN)
	return id, nil
}

// awaitCompletion polls until the job is ready. Poll call failures are
// logged and polling continues; a Blocked failure or too many failures in
// a row end the sequence.
func (c *Client) awaitCompletion(ctx context.Context, seq *sequence) error {
	seq.advance(StatePolling)
	jobID := seq.job.ID
	consecutiveErrors := 0

	for poll := 1; poll <= c.cfg.MaxPollAttempts; poll++ {
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			seq.advance(StateTimedOut)
			return scrapeerr.Wrap(scrapeerr.KindTimeout, fmt.Sprintf("gave up waiting for job %s", jobID), err)
		}

		var status statusResponse
		err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/status", nil, nil, &status)
		if err != nil {
			metrics.JobPolls.WithLabelValues("error").Inc()

			if scrapeerr.KindOf(err) == scrapeerr.KindBlocked {
				seq.advance(StateFailed)
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				seq.advance(StateTimedOut)
				return scrapeerr.Wrap(scrapeerr.KindTimeout, fmt.Sprintf("gave up waiting for job %s", jobID), ctxErr)
			}

			consecutiveErrors++
			c.logger.Warn("status poll failed",
				"job_id", jobID,
				"poll", poll,
				"consecutive_errors", consecutiveErrors,
				"error", err)

			if c.cfg.MaxConsecutivePollErrors > 0 && consecutiveErrors >= c.cfg.MaxConsecutivePollErrors {
				seq.advance(StateFailed)
				return err
			}
			continue
		}
		consecutiveErrors = 0
		metrics.JobPolls.WithLabelValues(status.Status).Inc()

		seq.job.Status = Status(status.Status)
		seq.job.Reason = status.Reason

		switch Status(status.Status) {
		case StatusReady:
			c.logger.Info("job ready", "job_id", jobID, "polls", poll)
			return nil
		case StatusFailed:
			seq.advance(StateFailed)
			reason := status.Reason
			if reason == "" {
				reason = "no reason given"
			}
			return scrapeerr.New(scrapeerr.KindUnknown, fmt.Sprintf("job %s failed: %s", jobID, reason))
		default:
			c.logger.Debug("job still running", "job_id", jobID, "poll", poll, "status", status.Status)
		}
	}

	seq.advance(StateTimedOut)
	return scrapeerr.New(scrapeerr.KindTimeout,
		fmt.Sprintf("job %s still running after %d polls", jobID, c.cfg.MaxPollAttempts))
}

func (c *Client) fetchPayload(ctx context.Context, jobID string) (*resultPayload, error) {
	var raw json.RawMessage
	query := url.Values{"format": {"json"}}
	if err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/result", query, nil, &raw); err != nil {
		return nil, err
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindParsing, fmt.Sprintf("failed to decode result of job %s", jobID), err)
	}
	return payload, nil
}

// decodePayload accepts either a single object or a snapshot array whose
// first element is the object.
func decodePayload(raw json.RawMessage) (*resultPayload, error) {
	var payload resultPayload

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []resultPayload
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("empty result snapshot")
		}
		payload = list[0]
	} else if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, err
	}

	if payload.Product.Title == "" && len(payload.Reviews) == 0 {
		return nil, fmt.Errorf("result has neither product nor reviews")
	}
	return &payload, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
