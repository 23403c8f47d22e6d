package queue

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/review-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopOrdersByPriority(t *testing.T) {
	q := NewInMemoryQueue()

	low := NewTask("A1", models.FetchOptions{}, 0)
	high := NewTask("A2", models.FetchOptions{}, 5)
	lowSecond := NewTask("A3", models.FetchOptions{}, 0)

	require.NoError(t, q.Push(low))
	require.NoError(t, q.Push(high))
	require.NoError(t, q.Push(lowSecond))
	assert.Equal(t, 3, q.Size())

	ctx := context.Background()
	for _, want := range []*Task{high, low, lowSecond} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
}

func TestPopWaitsForPush(t *testing.T) {
	q := NewInMemoryQueue()
	task := NewTask("A1", models.FetchOptions{}, 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(task)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Same(t, task, got)
}

func TestPopHonoursContext(t *testing.T) {
	q := NewInMemoryQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(NewTask("A1", models.FetchOptions{}, 0)))
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(NewTask("A2", models.FetchOptions{}, 0)), ErrQueueClosed)

	_, err := q.Pop(context.Background())
	require.NoError(t, err)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCloseWakesWaiters(t *testing.T) {
	q := NewInMemoryQueue()

	done := make(chan error)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestTryPop(t *testing.T) {
	q := NewInMemoryQueue()

	_, err := q.TryPop()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	task := NewTask("A1", models.FetchOptions{ReviewsCount: 10}, 0)
	require.NoError(t, q.Push(task))

	got, err := q.TryPop()
	require.NoError(t, err)
	assert.Equal(t, 10, got.Options.ReviewsCount)
}
