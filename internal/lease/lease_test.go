package lease

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquire_ExcludesSameKey(t *testing.T) {
	t.Parallel()

	m := NewManager()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "web")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if !free(m, "web") {
		t.Fatalf("expected lease released")
	}
}

func TestAcquire_DifferentKeysIndependent(t *testing.T) {
	t.Parallel()

	m := NewManager(WithTimeout(50 * time.Millisecond))
	releaseA, err := m.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	releaseB, err := m.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("acquire b while a is held: %v", err)
	}
	releaseB()
}

func TestAcquire_Timeout(t *testing.T) {
	t.Parallel()

	m := NewManager(WithTimeout(20 * time.Millisecond))
	release, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = m.Acquire(context.Background(), "web")
	if !errors.Is(err, ErrLeaseTimeout) {
		t.Fatalf("expected ErrLeaseTimeout, got %v", err)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	t.Parallel()

	m := NewManager(WithTimeout(time.Hour))
	release, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Acquire(ctx, "web"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	t.Parallel()

	m := NewManager()
	release, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()

	again, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("expected lease to be free after release: %v", err)
	}
	if free(m, "web") {
		t.Fatalf("expected a second holder to be refused while held")
	}
	again()
}

func TestLockDir_ExcludesAcrossManagers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	daemon := NewManager(WithLockDir(dir), WithRetryDelay(5*time.Millisecond))
	cli := NewManager(WithLockDir(dir), WithRetryDelay(5*time.Millisecond), WithTimeout(50*time.Millisecond))

	release, err := daemon.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := cli.Acquire(context.Background(), "web"); !errors.Is(err, ErrLeaseTimeout) {
		t.Fatalf("expected ErrLeaseTimeout from the second manager, got %v", err)
	}
	other, err := cli.Acquire(context.Background(), "api")
	if err != nil {
		t.Fatalf("expected other keys to stay independent: %v", err)
	}
	other()

	release()
	after, err := cli.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("expected lease after release: %v", err)
	}
	after()

	if _, err := os.Stat(filepath.Join(dir, "web.lock")); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
}

func TestLockDir_WaitsForOtherManager(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := NewManager(WithLockDir(dir), WithRetryDelay(5*time.Millisecond))
	second := NewManager(WithLockDir(dir), WithRetryDelay(5*time.Millisecond), WithTimeout(5*time.Second))

	release, err := first.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.AfterFunc(30*time.Millisecond, release)

	start := time.Now()
	got, err := second.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	got()
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("expected the second manager to wait for the first")
	}
}

func TestLockDir_RejectsPathKeys(t *testing.T) {
	t.Parallel()

	m := NewManager(WithLockDir(t.TempDir()))
	if _, err := m.Acquire(context.Background(), "../web"); err == nil {
		t.Fatalf("expected a key with a path separator to be refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) != 0 {
		t.Fatalf("expected the in-process slot to be given back, got %d entries", len(m.entries))
	}
}

// free reports whether key can be taken right now.
func free(m *Manager, key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release, err := m.Acquire(ctx, key)
	if err != nil {
		return false
	}
	release()
	return true
}
