package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDoSucceedsFirstTry(t *testing.T) {
	r := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, testLogger())

	calls := 0
	got, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableWithBackoff(t *testing.T) {
	base := 10 * time.Millisecond
	r := New(Config{MaxAttempts: 4, BaseDelay: base}, testLogger())

	netErr := scrapeerr.New(scrapeerr.KindNetwork, "connection reset")
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, netErr
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, scrapeerr.KindNetwork, scrapeerr.KindOf(err))
	// 10ms + 20ms + 40ms between the four attempts
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	r := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, testLogger())

	calls := 0
	got, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, scrapeerr.New(scrapeerr.KindTimeout, "slow upstream")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	r := New(Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, testLogger())

	blocked := scrapeerr.New(scrapeerr.KindBlocked, "captcha page")
	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, blocked
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, blocked, err)
}

func TestDoClassifiesRawErrors(t *testing.T) {
	r := New(Config{MaxAttempts: 2}, testLogger())

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("dial tcp: connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, scrapeerr.KindNetwork, scrapeerr.KindOf(err))
}

func TestDoReturnsTimeoutOnCancellation(t *testing.T) {
	r := New(Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, r, func(ctx context.Context) (int, error) {
		return 0, scrapeerr.New(scrapeerr.KindNetwork, "unreachable")
	})

	require.Error(t, err)
	assert.Equal(t, scrapeerr.KindTimeout, scrapeerr.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClampsAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 0}, nil)
	assert.Equal(t, 1, r.MaxAttempts())
}
