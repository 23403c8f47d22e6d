package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/review-scraper/internal/metrics"
)

// Resource is the underlying session being rotated: a browser context, an
// HTTP transport, or anything with a fresh-identity lifecycle.
type Resource interface {
	Initialize(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// ErrClosed is returned by Enter once the manager has been closed.
var ErrClosed = errors.New("session manager is closed")

type Config struct {
	// MaxRequests rotates after this many requests; 0 disables.
	MaxRequests int
	// RotationInterval rotates once the session is this old; 0 disables.
	RotationInterval time.Duration
}

const (
	reasonRequestLimit = "request_limit"
	reasonAge          = "age"
	reasonRecover      = "recover"
)

// Manager counts requests against a Resource and rotates it by count or
// age. Requests run between Enter and its release; rotation waits for
// them and blocks new ones until the fresh resource is ready.
type Manager struct {
	resource    Resource
	maxRequests int
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	gate sync.RWMutex

	mu        sync.Mutex
	count     int
	rotations int
	startedAt time.Time
	healthy   bool
	closed    bool
}

type Stats struct {
	Requests  int
	Rotations int
	Age       time.Duration
	Healthy   bool
}

func NewManager(resource Resource, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		resource:    resource,
		maxRequests: cfg.MaxRequests,
		interval:    cfg.RotationInterval,
		logger:      logger.With("component", "session_manager"),
		now:         time.Now,
	}
}

// Start initializes the resource for the first session.
func (m *Manager) Start(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	if err := m.resource.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	m.mu.Lock()
	m.count = 0
	m.startedAt = m.now()
	m.healthy = true
	m.closed = false
	m.mu.Unlock()

	m.logger.Info("session started",
		"max_requests", m.maxRequests,
		"rotation_interval", m.interval)
	return nil
}

// Enter admits one request into the current session. A session left
// broken by a failed rotation, or one past its age limit, is replaced
// first. The returned release must be called when the request ends.
func (m *Manager) Enter(ctx context.Context) (func(), error) {
	m.gate.RLock()

	m.mu.Lock()
	closed := m.closed
	reason := m.enterReason()
	m.mu.Unlock()

	if closed {
		m.gate.RUnlock()
		return nil, ErrClosed
	}

	if reason != "" {
		m.gate.RUnlock()
		if _, err := m.rotate(ctx, reason); err != nil {
			return nil, err
		}
		m.gate.RLock()
	}

	return m.gate.RUnlock, nil
}

// MaybeRotate records one completed request and rotates when the request
// limit or the age limit is reached. It must not be called while holding
// a release from Enter.
func (m *Manager) MaybeRotate(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, nil
	}
	m.count++
	reason := m.rotationReason()
	m.mu.Unlock()

	if reason == "" {
		return false, nil
	}

	return m.rotate(ctx, reason)
}

// Close tears down the resource after in-flight requests finish. Later
// calls to Enter fail with ErrClosed until Start is called again.
func (m *Manager) Close(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	m.mu.Lock()
	m.healthy = false
	m.closed = true
	m.mu.Unlock()

	if err := m.resource.Teardown(ctx); err != nil {
		return fmt.Errorf("failed to tear down session: %w", err)
	}

	m.logger.Info("session closed")
	return nil
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var age time.Duration
	if !m.startedAt.IsZero() {
		age = m.now().Sub(m.startedAt)
	}

	return Stats{
		Requests:  m.count,
		Rotations: m.rotations,
		Age:       age,
		Healthy:   m.healthy,
	}
}

func (m *Manager) rotate(ctx context.Context, reason string) (bool, error) {
	m.gate.Lock()
	defer m.gate.Unlock()

	// another caller may have rotated or closed while we waited for the gate
	m.mu.Lock()
	closed := m.closed
	current := m.rotationReason()
	m.mu.Unlock()
	if closed {
		return false, ErrClosed
	}
	if current == "" {
		return false, nil
	}

	m.logger.Info("rotating session", "reason", reason)

	if err := m.resource.Teardown(ctx); err != nil {
		m.logger.Warn("failed to tear down session", "error", err)
	}

	if err := m.resource.Initialize(ctx); err != nil {
		m.mu.Lock()
		m.healthy = false
		m.mu.Unlock()

		metrics.SessionRotations.WithLabelValues("failed").Inc()
		return false, fmt.Errorf("failed to rotate session: %w", err)
	}

	m.mu.Lock()
	m.count = 0
	m.startedAt = m.now()
	m.healthy = true
	m.rotations++
	m.mu.Unlock()

	metrics.SessionRotations.WithLabelValues(reason).Inc()
	return true, nil
}

// rotationReason must be called with mu held.
func (m *Manager) rotationReason() string {
	if !m.healthy {
		return reasonRecover
	}
	if m.maxRequests > 0 && m.count >= m.maxRequests {
		return reasonRequestLimit
	}
	if m.aged() {
		return reasonAge
	}
	return ""
}

// enterReason must be called with mu held. The request limit is left to
// MaybeRotate so that Enter never rotates on count alone.
func (m *Manager) enterReason() string {
	if !m.healthy {
		return reasonRecover
	}
	if m.aged() {
		return reasonAge
	}
	return ""
}

func (m *Manager) aged() bool {
	return m.interval > 0 && !m.startedAt.IsZero() && m.now().Sub(m.startedAt) >= m.interval
}
