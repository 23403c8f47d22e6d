package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstRequestDoesNotWait(t *testing.T) {
	l := New(time.Second, 2*time.Second)

	start := time.Now()
	require.NoError(t, l.BeforeRequest(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSpacingMeasuredFromPreviousEnd(t *testing.T) {
	l := New(40*time.Millisecond, 40*time.Millisecond)

	require.NoError(t, l.BeforeRequest(context.Background()))
	l.AfterRequest()

	start := time.Now()
	require.NoError(t, l.BeforeRequest(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestNoWaitWhenSpacingAlreadyElapsed(t *testing.T) {
	l := New(10*time.Millisecond, 10*time.Millisecond)
	l.AfterRequest()

	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.BeforeRequest(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestSpacingDrawnFromRange(t *testing.T) {
	l := New(time.Second, 3*time.Second)

	l.jitter = func(n int64) int64 {
		assert.Equal(t, int64(2*time.Second)+1, n)
		return 0
	}
	assert.Equal(t, time.Second, l.calculateDelay())

	l.jitter = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 3*time.Second, l.calculateDelay())
}

func TestBeforeRequestCancellable(t *testing.T) {
	l := New(time.Hour, time.Hour)
	l.AfterRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.BeforeRequest(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewNormalizesBounds(t *testing.T) {
	l := New(2*time.Second, time.Second)
	assert.Equal(t, 2*time.Second, l.calculateDelay())
}

func TestConcurrentRequestsAreSpaced(t *testing.T) {
	const spacing = 50 * time.Millisecond
	l := New(spacing, spacing)
	l.AfterRequest()

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, l.BeforeRequest(context.Background())) {
				return
			}
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()

			time.Sleep(30 * time.Millisecond)
			l.AfterRequest()
		}()
	}
	wg.Wait()

	require.Len(t, starts, 3)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), spacing-5*time.Millisecond,
			"request %d started too soon after the previous one", i)
	}
}

func TestAdmissionDoesNotRewindLastEnd(t *testing.T) {
	base := time.Now()
	current := base
	l := New(0, 0)
	l.now = func() time.Time { return current }

	l.AfterRequest()
	current = base.Add(-time.Second)
	l.AfterRequest()

	assert.Equal(t, base, l.lastEnd)
}
