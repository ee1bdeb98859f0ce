package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nholik/smso/internal/health"
	"github.com/nholik/smso/internal/healthcheck"
	"github.com/nholik/smso/internal/monitor"
	"github.com/rs/zerolog"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func TestRunner_Run_TriggersRunOnceOnTicks(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 2)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	if !waitForCalls(runCalls, 2, time.Second) {
		t.Fatalf("expected two run calls")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_StopsOnContextCancel(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_RejectsZeroInterval(t *testing.T) {
	r := New(zerolog.Nop(), 0)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestRunner_Run_ImmediateFirstRun(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	// Should receive immediate first run without any tick
	if !waitForCalls(runCalls, 1, time.Second) {
		t.Fatalf("expected immediate first run")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func waitForCalls(ch <-chan struct{}, count int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}

type fakePasser struct {
	pass  monitor.Pass
	err   error
	calls int
}

func (f *fakePasser) RunPass(context.Context) (monitor.Pass, error) {
	f.calls++
	return f.pass, f.err
}

func TestRunner_RunOnce_RecordsPass(t *testing.T) {
	passer := &fakePasser{pass: monitor.Pass{
		Duration: 40 * time.Millisecond,
		Records:  []health.Record{{Service: "api", Action: health.ActionHealthy}, {Service: "web", Action: health.ActionRolledBack}},
		Health:   health.PassHealth{Status: health.StatusDegraded},
	}}
	tracker := healthcheck.NewTracker()
	r := New(zerolog.Nop(), time.Second, WithPasser(passer), WithTracker(tracker))

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if passer.calls != 1 {
		t.Fatalf("expected one pass, got %d", passer.calls)
	}
	if !tracker.Ready() {
		t.Fatalf("expected tracker to be ready")
	}
	snapshot := tracker.Snapshot()
	if snapshot.ServicesChecked != 2 || snapshot.PassDurationMS != 40 || snapshot.PassStatus != "DEGRADED" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestRunner_RunOnce_WrapsPassError(t *testing.T) {
	cause := errors.New("registry missing")
	tracker := healthcheck.NewTracker()
	r := New(zerolog.Nop(), time.Second, WithPasser(&fakePasser{err: cause}), WithTracker(tracker))

	err := r.RunOnce(context.Background())
	var runtimeErr *RuntimeError
	if !errors.As(err, &runtimeErr) {
		t.Fatalf("expected RuntimeError, got %v", err)
	}
	if runtimeErr.Op != "health pass" || runtimeErr.Partial || !errors.Is(err, cause) {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracker.Ready() {
		t.Fatalf("expected tracker to stay unready after a failed pass")
	}
}

func TestRunner_RunOnce_NoPasser(t *testing.T) {
	r := New(zerolog.Nop(), time.Second)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunner_RunOnce_PartialPassStillRecorded(t *testing.T) {
	passer := &fakePasser{
		pass: monitor.Pass{Records: []health.Record{{Service: "api", Action: health.ActionHealthy}}},
		err:  errors.New("save health summary: disk full"),
	}
	tracker := healthcheck.NewTracker()
	r := New(zerolog.Nop(), time.Second, WithPasser(passer), WithTracker(tracker))

	err := r.RunOnce(context.Background())
	var runtimeErr *RuntimeError
	if !errors.As(err, &runtimeErr) || !runtimeErr.Partial {
		t.Fatalf("expected partial RuntimeError, got %v", err)
	}
	if runtimeErr.Error() != "health pass (partial): save health summary: disk full" {
		t.Fatalf("unexpected message %q", runtimeErr.Error())
	}
	if !tracker.Ready() {
		t.Fatalf("expected a partial pass to mark the tracker ready")
	}
}
