package runner

import (
	"context"
	"errors"
	"time"

	"github.com/nholik/smso/internal/healthcheck"
	"github.com/nholik/smso/internal/monitor"
	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Passer runs a single health pass.
type Passer interface {
	RunPass(ctx context.Context) (monitor.Pass, error)
}

// Runner schedules monitor passes on a fixed interval.
type Runner struct {
	logger        zerolog.Logger
	interval      time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	passer        Passer
	tracker       *healthcheck.Tracker
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-pass execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithPasser sets the monitor used by the default RunOnce.
func WithPasser(p Passer) Option {
	return func(r *Runner) {
		r.passer = p
	}
}

// WithTracker records completed passes for the health endpoints.
func WithTracker(t *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = t
	}
}

// New constructs a Runner with the given logger and pass interval.
func New(logger zerolog.Logger, interval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:   logger,
		interval: interval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("monitor interval must be greater than zero")
	}

	// Run immediately on startup
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial health pass failed")
	}

	ticker := r.tickerFactory(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("health pass failed")
			}
		}
	}
}

// RunOnce executes a single pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	if r.passer == nil {
		return nil
	}

	pass, err := r.passer.RunPass(ctx)
	checked := len(pass.Records) > 0
	if checked || err == nil {
		r.tracker.RecordPass(pass.Duration, len(pass.Records), string(pass.Health.Status))
	}
	return wrapRuntime("health pass", err, checked)
}
