package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/maltedev/review-scraper/internal/metrics"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
)

// maxBackoffShift bounds the exponent used to derive the backoff ceiling.
const maxBackoffShift = 20

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Retrier runs an operation up to MaxAttempts times, waiting
// BaseDelay*2^(k-1) after the k-th failure. Waits carry no jitter.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	classifier  scrapeerr.Classifier
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Retrier{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      logger.With("component", "retrier"),
	}
}

// WithClassifier returns a copy that classifies unclassified failures with cl.
func (r *Retrier) WithClassifier(cl scrapeerr.Classifier) *Retrier {
	cp := *r
	cp.classifier = cl
	return &cp
}

func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// Do executes op with retries. Non-retryable failures end the loop at once
// and are returned unchanged; exhausted retries return the last failure;
// cancellation of ctx returns a Timeout error.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempt := 0

	result, err := failsafe.With(newPolicy[T](r)).WithContext(ctx).Get(func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		se := r.classifier.Classify(err, scrapeerr.Context{})
		metrics.RetryAttempts.WithLabelValues(se.Kind.String()).Inc()
		r.logger.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"kind", se.Kind,
			"retryable", se.Retryable(),
			"error", se.Error(),
		)
		return zero, se
	})
	if err == nil {
		return result, nil
	}

	var se *scrapeerr.Error
	hasClassified := errors.As(err, &se)
	if hasClassified && !se.Retryable() {
		return zero, se
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, scrapeerr.Wrap(scrapeerr.KindTimeout,
			fmt.Sprintf("operation abandoned after %d attempts", attempt), ctxErr)
	}

	if hasClassified {
		return zero, se
	}

	return zero, scrapeerr.Wrap(scrapeerr.KindUnknown, "retry execution failed", err)
}

func newPolicy[T any](r *Retrier) retrypolicy.RetryPolicy[T] {
	builder := retrypolicy.NewBuilder[T]().
		WithMaxRetries(r.maxAttempts - 1).
		HandleIf(func(_ T, err error) bool {
			return scrapeerr.IsRetryable(err)
		})

	if r.baseDelay > 0 && r.maxAttempts > 1 {
		builder = builder.WithBackoff(r.baseDelay, r.maxDelay())
	}

	return builder.Build()
}

// maxDelay is never reached by a run; it only has to exceed the longest
// wait, BaseDelay*2^(MaxAttempts-2).
func (r *Retrier) maxDelay() time.Duration {
	shift := r.maxAttempts - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return r.baseDelay << shift
}
