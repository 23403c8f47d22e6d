package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/maltedev/review-scraper/internal/metrics"
)

type RateLimiter interface {
	BeforeRequest(ctx context.Context) error
	AfterRequest()
}

// Limiter spaces requests so that each one starts at least a random
// spacing in [minDelay, maxDelay] after the previous one ended. A request
// that is still in flight counts as ending when it was admitted, so
// concurrent callers are spaced from each other too.
type Limiter struct {
	minDelay time.Duration
	maxDelay time.Duration

	// gate serializes waiters; mu guards lastEnd.
	gate    sync.Mutex
	mu      sync.Mutex
	lastEnd time.Time

	now    func() time.Time
	jitter func(n int64) int64
}

func New(minDelay, maxDelay time.Duration) *Limiter {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &Limiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		now:      time.Now,
		jitter:   rand.Int63n,
	}
}

func (l *Limiter) BeforeRequest(ctx context.Context) error {
	l.gate.Lock()
	defer l.gate.Unlock()

	if err := l.wait(ctx); err != nil {
		return err
	}

	l.mark()
	return nil
}

func (l *Limiter) wait(ctx context.Context) error {
	l.mu.Lock()
	lastEnd := l.lastEnd
	l.mu.Unlock()

	if lastEnd.IsZero() {
		return ctx.Err()
	}

	elapsed := l.now().Sub(lastEnd)
	delay := l.calculateDelay()
	if elapsed >= delay {
		return ctx.Err()
	}

	waitTime := delay - elapsed
	metrics.RateLimitWait.Observe(waitTime.Seconds())

	timer := time.NewTimer(waitTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) AfterRequest() {
	l.mark()
}

// mark moves lastEnd forward to now; it never moves it back.
func (l *Limiter) mark() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); now.After(l.lastEnd) {
		l.lastEnd = now
	}
}

func (l *Limiter) calculateDelay() time.Duration {
	if l.minDelay == l.maxDelay {
		return l.minDelay
	}

	delta := l.maxDelay - l.minDelay
	return l.minDelay + time.Duration(l.jitter(int64(delta)+1))
}
