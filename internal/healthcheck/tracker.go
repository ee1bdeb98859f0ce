package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest monitor pass.
type Snapshot struct {
	LastPassTime    *time.Time `json:"last_pass_time"`
	PassDurationMS  int64      `json:"pass_duration_ms"`
	ServicesChecked int        `json:"services_checked"`
	PassStatus      string     `json:"pass_status,omitempty"`
}

// Tracker records pass timing for health endpoints.
type Tracker struct {
	mu              sync.RWMutex
	lastPass        time.Time
	passDuration    time.Duration
	servicesChecked int
	passStatus      string
	ready           bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordPass updates pass timing and readiness.
func (t *Tracker) RecordPass(duration time.Duration, servicesChecked int, status string) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastPass = now
	t.passDuration = duration
	t.servicesChecked = servicesChecked
	t.passStatus = status
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastPass.IsZero() {
		value := t.lastPass
		last = &value
	}
	return Snapshot{
		LastPassTime:    last,
		PassDurationMS:  int64(t.passDuration / time.Millisecond),
		ServicesChecked: t.servicesChecked,
		PassStatus:      t.passStatus,
	}
}

// Ready reports whether at least one pass has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last pass completed within 2x the monitor interval.
func (t *Tracker) Healthy(now time.Time, interval time.Duration) bool {
	if t == nil {
		return false
	}
	if interval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastPass.IsZero() {
		return false
	}
	return now.Sub(t.lastPass) <= 2*interval
}
