// Package lease provides per-service exclusion for workflows that mutate a container.
//
// Within one process a lease is a buffered channel slot. With a lock directory configured
// every lease also holds an flock on <dir>/<key>.lock, so separate smso processes working
// on the same target (a CLI deploy next to the daemon) exclude each other as well.
package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/nholik/smso/internal/metrics"
)

// ErrLeaseTimeout is returned when a lease could not be acquired in time.
var ErrLeaseTimeout = errors.New("lease timeout")

const defaultRetryDelay = 50 * time.Millisecond

type entry struct {
	slot chan struct{}
	refs int
}

// Manager hands out one lease per key at a time.
type Manager struct {
	mu         sync.Mutex
	entries    map[string]*entry
	timeout    time.Duration
	lockDir    string
	retryDelay time.Duration
	metrics    *metrics.Metrics
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTimeout bounds how long Acquire waits. Zero waits until the context ends.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithLockDir makes leases exclusive across processes sharing dir.
func WithLockDir(dir string) Option {
	return func(m *Manager) {
		m.lockDir = dir
	}
}

// WithRetryDelay sets how often a held lock file is retried.
func WithRetryDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.retryDelay = delay
		}
	}
}

// WithMetrics records lease wait durations.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager returns an empty lease manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{entries: make(map[string]*entry), retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until the lease for key is free, the timeout passes, or ctx ends.
// The returned release func is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()

	waitCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	e := m.ref(key)
	select {
	case e.slot <- struct{}{}:
	case <-waitCtx.Done():
		m.unref(key)
		return nil, m.waitError(ctx, key)
	}
	releaseSlot := func() {
		<-e.slot
		m.unref(key)
	}

	lock, err := m.lockFile(waitCtx, key)
	if err != nil {
		releaseSlot()
		if waitCtx.Err() != nil {
			return nil, m.waitError(ctx, key)
		}
		return nil, err
	}
	m.metrics.ObserveLeaseWait(time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			if lock != nil {
				_ = lock.Unlock()
			}
			releaseSlot()
		})
	}, nil
}

// lockFile takes the cross-process lock for key; nil without a lock directory.
func (m *Manager) lockFile(ctx context.Context, key string) (*flock.Flock, error) {
	if m.lockDir == "" {
		return nil, nil
	}
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return nil, fmt.Errorf("lease key %q cannot name a lock file", key)
	}
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lock := flock.New(filepath.Join(m.lockDir, key+".lock"))
	locked, err := lock.TryLockContext(ctx, m.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", lock.Path())
	}
	return lock, nil
}

func (m *Manager) waitError(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s held for more than %s", ErrLeaseTimeout, key, m.timeout)
}

func (m *Manager) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
