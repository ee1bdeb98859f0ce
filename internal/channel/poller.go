package channel

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/smso/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	defaultInterval = 2 * time.Second
	defaultAttempts = 30
	// unreachableAfter consecutive ErrTransport fetches mean the target is gone rather
	// than the command being slow.
	unreachableAfter = 3
)

// Poller implements Channel over a Backend by polling at a fixed interval for a bounded
// number of attempts.
type Poller struct {
	backend  Backend
	logger   zerolog.Logger
	interval time.Duration
	attempts int
	metrics  *metrics.Metrics
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithInterval sets the delay between polls.
func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithAttempts bounds how many polls happen before giving up.
func WithAttempts(attempts int) PollerOption {
	return func(p *Poller) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithMetrics records dispatch results.
func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// NewPoller wraps a backend.
func NewPoller(backend Backend, logger zerolog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		backend:  backend,
		logger:   logger,
		interval: defaultInterval,
		attempts: defaultAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch implements Channel.
func (p *Poller) Dispatch(ctx context.Context, batch Batch) Invocation {
	inv := p.dispatch(ctx, batch)
	p.metrics.IncDispatch(string(inv.Status))

	event := p.logger.Debug()
	if !inv.Status.Terminal() {
		event = p.logger.Warn()
	} else if inv.Status == StatusUnreachable {
		event = p.logger.Error().Err(inv.Err)
	}
	event.
		Str("invocation_id", inv.ID).
		Str("target", inv.Target).
		Str("status", string(inv.Status)).
		Int("attempts", inv.Attempts).
		Int("commands", len(batch.Commands)).
		Str("comment", batch.Comment).
		Msg("command batch finished")

	return inv
}

func (p *Poller) dispatch(ctx context.Context, batch Batch) Invocation {
	target := p.backend.Target()

	id, err := p.backend.Send(ctx, batch)
	if err != nil {
		return Unreachable(target, err)
	}

	last := Invocation{ID: id, Target: target, Status: StatusPending}
	failures := 0
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.interval), uint64(p.attempts))

	for {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if !sleepWithContext(ctx, wait) {
			last.Err = ctx.Err()
			return last
		}

		last.Attempts++
		snapshot, err := p.backend.Fetch(ctx, id)
		switch {
		case err == nil:
			failures = 0
			snapshot.Attempts = last.Attempts
			last = fill(snapshot, id, target)
			if last.Status.Terminal() {
				return last
			}
		case errors.Is(err, ErrUnreachable):
			inv := Unreachable(target, err)
			inv.ID = id
			inv.Attempts = last.Attempts
			return inv
		case errors.Is(err, ErrNotRegistered):
			failures = 0
		case errors.Is(err, ErrTransport):
			failures++
			p.logger.Debug().Err(err).Str("invocation_id", id).Int("consecutive", failures).Msg("poll failed")
			last.Err = err
			if failures >= unreachableAfter {
				inv := Unreachable(target, errors.Join(ErrUnreachable, err))
				inv.ID = id
				inv.Attempts = last.Attempts
				return inv
			}
		default:
			failures = 0
			p.logger.Debug().Err(err).Str("invocation_id", id).Msg("poll failed")
			last.Err = err
		}
	}

	// Budget exhausted; one last look, returned as best effort.
	if snapshot, err := p.backend.Fetch(ctx, id); err == nil {
		snapshot.Attempts = last.Attempts
		last = fill(snapshot, id, target)
	}
	return last
}

func fill(inv Invocation, id, target string) Invocation {
	if inv.ID == "" {
		inv.ID = id
	}
	if inv.Target == "" {
		inv.Target = target
	}
	if inv.Status == "" {
		inv.Status = StatusPending
	}
	return inv
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
