package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ProbeThreadID is the reserved thread the manager reads to check that the
// store still answers. It never holds checkpoints.
const ProbeThreadID = "@@TestAsyncPostgresSaverConnectionIsKeepAlive"

// DefaultFreshness is how long a successful check is trusted.
const DefaultFreshness = 30 * time.Second

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 5 * time.Second

// DialFunc establishes a new store connection.
type DialFunc func(ctx context.Context) (ClosableStore, error)

// ReconnectObserver is notified when the manager replaces a dead handle.
type ReconnectObserver interface {
	IncrementStoreReconnects(reason string)
}

// Manager owns the process-wide checkpoint store handle.
//
// The handle is created lazily on the first Get. A single mutex serialises
// the liveness probe and any reconnect, so concurrent callers racing on a
// cold or failed handle cause exactly one dial. A successful check is trusted
// for the freshness window; after that the next Get probes the store by
// reading ProbeThreadID and, if the probe fails, tears the handle down and
// dials a new one.
//
// Manager implements Provider and is passed to the engine by reference.
type Manager struct {
	dial         DialFunc
	freshness    time.Duration
	probeTimeout time.Duration
	now       func() time.Time
	logger    *slog.Logger
	observer  ReconnectObserver

	mu        sync.Mutex
	handle    ClosableStore
	lastCheck time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFreshness overrides DefaultFreshness.
func WithFreshness(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.freshness = d
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.probeTimeout = d
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithManagerLogger sets the logger used for connection lifecycle messages.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithReconnectObserver reports reconnects, typically to metrics.
func WithReconnectObserver(o ReconnectObserver) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates a Manager that connects with dial on first use.
func NewManager(dial DialFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		dial:         dial,
		freshness:    DefaultFreshness,
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a live store handle, connecting or reconnecting as needed.
//
// An error from the initial dial is returned wrapped; it is not retried.
// A caller whose ctx is already done gets ctx.Err() and the handle is left
// alone.
func (m *Manager) Get(ctx context.Context) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.alive(ctx) {
		return m.handle, nil
	}

	if m.handle != nil {
		m.logger.Warn("checkpoint store probe failed, reconnecting")
		if m.observer != nil {
			m.observer.IncrementStoreReconnects("probe_failed")
		}
		m.release()
	}

	handle, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect checkpoint store: %w", err)
	}
	m.handle = handle
	m.lastCheck = m.now()
	m.logger.Info("checkpoint store connected")
	return m.handle, nil
}

// alive reports whether the current handle may be returned. Caller holds mu.
//
// The probe is detached from the caller's cancellation so that a departing
// client cannot make a healthy store look dead.
func (m *Manager) alive(ctx context.Context) bool {
	if m.handle == nil {
		return false
	}
	if m.now().Sub(m.lastCheck) < m.freshness {
		return true
	}

	m.logger.Debug("checking checkpoint store connection")
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.probeTimeout)
	defer cancel()
	_, err := m.handle.Latest(probeCtx, ProbeThreadID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Error("checkpoint store connection check failed", "error", err)
		m.lastCheck = time.Time{}
		return false
	}
	m.lastCheck = m.now()
	return true
}

// release closes and forgets the handle. Caller holds mu.
func (m *Manager) release() {
	if m.handle == nil {
		return
	}
	if err := m.handle.Close(); err != nil {
		m.logger.Warn("error closing previous checkpoint store", "error", err)
	}
	m.handle = nil
	m.lastCheck = time.Time{}
}

// Close releases the handle and resets the freshness window so the next Get
// dials again.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		m.lastCheck = time.Time{}
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	m.lastCheck = time.Time{}
	return err
}
