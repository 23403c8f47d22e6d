package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	mu        sync.Mutex
	inits     int
	teardowns int
	failInit  bool
}

func (f *fakeResource) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInit {
		return errors.New("browser launch failed")
	}
	f.inits++
	return nil
}

func (f *fakeResource) Teardown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return nil
}

func (f *fakeResource) setFailInit(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInit = v
}

func (f *fakeResource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.teardowns
}

func request(t *testing.T, m *Manager) (bool, error) {
	t.Helper()
	release, err := m.Enter(context.Background())
	require.NoError(t, err)
	release()
	return m.MaybeRotate(context.Background())
}

func TestRotatesAfterMaxRequests(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{MaxRequests: 3}, slog.Default())
	require.NoError(t, m.Start(context.Background()))

	for i := 0; i < 2; i++ {
		rotated, err := request(t, m)
		require.NoError(t, err)
		assert.False(t, rotated)
	}

	rotated, err := request(t, m)
	require.NoError(t, err)
	assert.True(t, rotated)

	inits, teardowns := res.counts()
	assert.Equal(t, 2, inits)
	assert.Equal(t, 1, teardowns)

	stats := m.Stats()
	assert.Equal(t, 0, stats.Requests)
	assert.Equal(t, 1, stats.Rotations)
	assert.True(t, stats.Healthy)
}

func TestRotatesByAge(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{RotationInterval: time.Minute}, slog.Default())

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	require.NoError(t, m.Start(context.Background()))

	rotated, err := request(t, m)
	require.NoError(t, err)
	assert.False(t, rotated)

	release, err := m.Enter(context.Background())
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	release()

	rotated, err = m.MaybeRotate(context.Background())
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, time.Duration(0), m.Stats().Age)
}

func TestEnterReplacesAgedSession(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{RotationInterval: time.Minute}, slog.Default())

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	require.NoError(t, m.Start(context.Background()))

	clock = clock.Add(2 * time.Minute)
	release, err := m.Enter(context.Background())
	require.NoError(t, err)
	release()

	inits, _ := res.counts()
	assert.Equal(t, 2, inits)
}

func TestFailedRotationRecoversOnNextEnter(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{MaxRequests: 1}, slog.Default())
	require.NoError(t, m.Start(context.Background()))

	res.setFailInit(true)
	rotated, err := request(t, m)
	require.Error(t, err)
	assert.False(t, rotated)
	assert.False(t, m.Stats().Healthy)

	_, err = m.Enter(context.Background())
	require.Error(t, err, "enter must fail while the resource cannot start")

	res.setFailInit(false)
	release, err := m.Enter(context.Background())
	require.NoError(t, err)
	release()
	assert.True(t, m.Stats().Healthy)
}

func TestRotationWaitsForInFlightRequests(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{MaxRequests: 1}, slog.Default())
	require.NoError(t, m.Start(context.Background()))

	release, err := m.Enter(context.Background())
	require.NoError(t, err)

	var rotated atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		ok, err := m.MaybeRotate(context.Background())
		assert.NoError(t, err)
		rotated.Store(ok)
	}()

	time.Sleep(20 * time.Millisecond)
	_, teardowns := res.counts()
	assert.Equal(t, 0, teardowns, "rotation must not tear down an in-flight session")

	release()
	<-done

	assert.True(t, rotated.Load())
	_, teardowns = res.counts()
	assert.Equal(t, 1, teardowns)
}

func TestClose(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{}, slog.Default())
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	_, teardowns := res.counts()
	assert.Equal(t, 1, teardowns)
	assert.False(t, m.Stats().Healthy)
}

func TestEnterAfterCloseDoesNotReopen(t *testing.T) {
	res := &fakeResource{}
	m := NewManager(res, Config{MaxRequests: 1}, slog.Default())
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	release, err := m.Enter(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, release)

	rotated, err := m.MaybeRotate(context.Background())
	require.NoError(t, err)
	assert.False(t, rotated)

	inits, teardowns := res.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, teardowns)
	assert.False(t, m.Stats().Healthy)

	require.NoError(t, m.Start(context.Background()))
	release, err = m.Enter(context.Background())
	require.NoError(t, err)
	release()
}
