package channel

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLocalTimeout = 10 * time.Minute

// Local runs batches through sh on this host. Commands keep running after the caller
// stops polling, matching the remote channel's semantics. A finished invocation nobody
// fetched is forgotten once its batch timeout has passed again.
type Local struct {
	shell string
	now   func() time.Time

	mu          sync.Mutex
	invocations map[string]*localInvocation
}

type localInvocation struct {
	inv Invocation
	// expires is zero while the batch runs.
	expires time.Time
}

// NewLocal returns a backend that executes batches with /bin/sh.
func NewLocal() *Local {
	return &Local{
		shell:       "/bin/sh",
		now:         time.Now,
		invocations: make(map[string]*localInvocation),
	}
}

// Target implements Backend.
func (l *Local) Target() string {
	return "localhost"
}

// Send implements Backend.
func (l *Local) Send(_ context.Context, batch Batch) (string, error) {
	if _, err := exec.LookPath(l.shell); err != nil {
		return "", errors.Join(ErrUnreachable, err)
	}

	id := uuid.NewString()
	l.mu.Lock()
	l.sweepLocked()
	l.invocations[id] = &localInvocation{
		inv: Invocation{ID: id, Target: l.Target(), Status: StatusPending, ResponseCode: -1},
	}
	l.mu.Unlock()

	go l.run(id, batch)
	return id, nil
}

// Fetch implements Backend.
func (l *Local) Fetch(_ context.Context, id string) (Invocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
	entry, ok := l.invocations[id]
	if !ok {
		return Invocation{}, ErrNotRegistered
	}
	snapshot := entry.inv
	if snapshot.Status.Terminal() {
		delete(l.invocations, id)
	}
	return snapshot, nil
}

func (l *Local) sweepLocked() {
	now := l.now()
	for id, entry := range l.invocations {
		if !entry.expires.IsZero() && now.After(entry.expires) {
			delete(l.invocations, id)
		}
	}
}

func (l *Local) run(id string, batch Batch) {
	timeout := batch.Timeout
	if timeout <= 0 {
		timeout = defaultLocalTimeout
	}
	// Detached from the caller: giving up on waiting must not kill the command.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.shell, "-c", strings.Join(batch.Commands, "\n"))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	err := cmd.Run()

	status := StatusSuccess
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = StatusTimedOut
	case err != nil:
		status = StatusFailed
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.invocations[id] = &localInvocation{
		inv: Invocation{
			ID:           id,
			Target:       l.Target(),
			Status:       status,
			Stdout:       stdout.String(),
			Stderr:       stderr.String(),
			ResponseCode: cmd.ProcessState.ExitCode(),
		},
		expires: l.now().Add(timeout),
	}
}
