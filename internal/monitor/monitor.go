// Package monitor probes every registered service and rolls failing ones back to their
// stable snapshot.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nholik/smso/internal/channel"
	"github.com/nholik/smso/internal/dockercmd"
	"github.com/nholik/smso/internal/health"
	"github.com/nholik/smso/internal/lease"
	"github.com/nholik/smso/internal/metrics"
	"github.com/nholik/smso/internal/notify"
	"github.com/nholik/smso/internal/registry"
	"github.com/nholik/smso/internal/state"
	"github.com/nholik/smso/internal/transition"
	"github.com/rs/zerolog"
)

const (
	defaultProbeTimeout   = 5 * time.Second
	defaultCommandTimeout = 60 * time.Second
)

// Pass is the outcome of one monitor pass over the registry.
type Pass struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Records     []health.Record
	Health      health.PassHealth
	Transitions []transition.ServiceTransition
}

// Monitor runs health passes. Passes never overlap.
type Monitor struct {
	channel  channel.Channel
	docker   dockercmd.Builder
	source   registry.Source
	leases   *lease.Manager
	summary  state.HealthSummary
	log      state.HealthLog
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	probeTimeout   time.Duration
	commandTimeout time.Duration
	now            func() time.Time

	passMu sync.Mutex
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLeases shares a lease manager with the deploy workflows.
func WithLeases(m *lease.Manager) Option {
	return func(mon *Monitor) {
		if m != nil {
			mon.leases = m
		}
	}
}

// WithHealthSummary persists the records of each pass.
func WithHealthSummary(s state.HealthSummary) Option {
	return func(mon *Monitor) {
		mon.summary = s
	}
}

// WithHealthLog appends every record to the durable log.
func WithHealthLog(l state.HealthLog) Option {
	return func(mon *Monitor) {
		mon.log = l
	}
}

// WithNotifier reports transitions between passes.
func WithNotifier(n notify.Notifier) Option {
	return func(mon *Monitor) {
		mon.notifier = n
	}
}

// WithMetrics records actions and pass timing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) {
		mon.metrics = m
	}
}

// WithProbeTimeout bounds each /healthz request.
func WithProbeTimeout(d time.Duration) Option {
	return func(mon *Monitor) {
		if d > 0 {
			mon.probeTimeout = d
		}
	}
}

// WithCommandTimeout sets the execution timeout sent with each batch.
func WithCommandTimeout(d time.Duration) Option {
	return func(mon *Monitor) {
		if d > 0 {
			mon.commandTimeout = d
		}
	}
}

// WithClock replaces the clock used for record times.
func WithClock(now func() time.Time) Option {
	return func(mon *Monitor) {
		if now != nil {
			mon.now = now
		}
	}
}

// New builds a Monitor for the services in source.
func New(ch channel.Channel, docker dockercmd.Builder, source registry.Source, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		channel:        ch,
		docker:         docker,
		source:         source,
		leases:         lease.NewManager(),
		logger:         logger,
		probeTimeout:   defaultProbeTimeout,
		commandTimeout: defaultCommandTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunPass loads the registry and checks every service in it.
func (m *Monitor) RunPass(ctx context.Context) (Pass, error) {
	reg, err := m.source.Load(ctx)
	if err != nil {
		return Pass{}, fmt.Errorf("load registry: %w", err)
	}
	return m.pass(ctx, reg)
}

// CheckAndRecover checks the given services in order. Channel failures end up inside the
// records; persistence failures are logged.
func (m *Monitor) CheckAndRecover(ctx context.Context, reg registry.Registry) []health.Record {
	pass, err := m.pass(ctx, reg)
	if err != nil {
		m.logger.Error().Err(err).Str("run_id", pass.RunID).Msg("health pass not persisted")
	}
	return pass.Records
}

func (m *Monitor) pass(ctx context.Context, reg registry.Registry) (Pass, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	pass := Pass{RunID: uuid.NewString(), StartedAt: m.now()}
	logger := m.logger.With().Str("run_id", pass.RunID).Logger()
	logger.Debug().Int("services", len(reg.Services)).Msg("health pass started")

	remoteLog := m.log
	if remoteLog != nil {
		if err := remoteLog.Ensure(ctx); err != nil {
			logger.Warn().Err(err).Msg("remote health log unavailable for this pass")
			remoteLog = nil
		}
	}

	pass.Records = make([]health.Record, 0, len(reg.Services))
	for _, svc := range reg.Services {
		record := m.checkService(ctx, logger, svc)
		m.metrics.IncHealthAction(record.Service, string(record.Action))
		if remoteLog != nil {
			if err := remoteLog.Append(ctx, record); err != nil {
				logger.Warn().Err(err).Str("service", svc.Name).Msg("append remote health log")
			}
		}
		pass.Records = append(pass.Records, record)
	}

	pass.Health = health.Summarize(pass.Records)
	pass.Duration = m.now().Sub(pass.StartedAt)
	m.metrics.ObservePassDuration(pass.Duration)
	m.metrics.SetLastPassTimestamp(pass.StartedAt)

	err := m.persist(ctx, logger, &pass)

	logger.Info().
		Str("status", string(pass.Health.Status)).
		Int("services", len(pass.Records)).
		Int("transitions", len(pass.Transitions)).
		Dur("duration", pass.Duration).
		Msg("health pass finished")
	return pass, err
}

func (m *Monitor) persist(ctx context.Context, logger zerolog.Logger, pass *Pass) error {
	if m.summary == nil {
		return nil
	}

	previous, err := m.summary.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load previous health summary")
		previous = nil
	}
	if err := m.summary.Save(ctx, pass.Records); err != nil {
		return fmt.Errorf("save health summary: %w", err)
	}

	pass.Transitions = transition.DetectServiceTransitions(previous, pass.Records)
	for _, change := range pass.Transitions {
		event := logger.Info()
		switch change.CurrentStatus {
		case health.StatusFailed:
			event = logger.Error()
		case health.StatusDegraded:
			event = logger.Warn()
		}
		event.
			Str("service", change.Name).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Str("action", string(change.CurrentAction)).
			Strs("reasons", change.Reasons).
			Msg("service transition detected")
	}

	if m.notifier != nil && len(pass.Transitions) > 0 {
		if err := m.notifier.Notify(ctx, notify.SourceMonitor, pass.Transitions); err != nil {
			m.metrics.IncNotificationErrors()
			logger.Warn().Err(err).Msg("transition notification failed")
		}
	}
	return nil
}

// checkService probes one service and rolls it back when the probe fails and a stable
// snapshot exists. The rolled back container is not probed again in this pass.
func (m *Monitor) checkService(ctx context.Context, logger zerolog.Logger, svc registry.Service) health.Record {
	logger = logger.With().Str("service", svc.Name).Logger()
	record := health.Record{Service: svc.Name, Time: m.now().Unix()}

	release, err := m.leases.Acquire(ctx, svc.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("service busy, skipped")
		record.Action = health.ActionSkippedBusy
		record.Result = fmt.Sprintf("Skipped: %v", err)
		return record
	}
	defer release()

	probe := health.Probe{Reason: "invalid port mapping"}
	if hostPort, err := svc.HostPort(); err == nil {
		probe = health.EvaluateProbe(m.dispatch(ctx, "healthz "+svc.Name, dockercmd.Probe(hostPort, m.probeSeconds())))
	}
	record.Health = probe.Output
	if probe.Healthy {
		logger.Debug().Str("output", probe.Output).Msg("service healthy")
		record.Action = health.ActionHealthy
		record.Result = probe.Output
		return record
	}

	lookup := m.dispatch(ctx, "stable image "+svc.Name, m.docker.ImageID(svc.StableTag()))
	if lookup.Outcome() != channel.OutcomeSucceeded {
		logger.Error().Str("reason", probe.Reason).Str("status", string(lookup.Status)).Msg("unhealthy, stable image lookup did not complete")
		record.Action = health.ActionRecoveryUnknown
		record.Result = fmt.Sprintf("Stable image lookup did not complete (%s)", lookup.Status)
		return record
	}
	if lookup.Output() == "" {
		logger.Error().Str("reason", probe.Reason).Msg("unhealthy, no stable image to roll back to")
		record.Action = health.ActionNoStableImage
		record.Result = health.NoStableResult
		return record
	}

	rollback := m.dispatch(ctx, "rollback "+svc.Name,
		m.docker.Stop(svc.Name),
		m.docker.Remove(svc.Name),
		m.docker.Run(svc.Name, svc.Port, svc.StableTag()),
	)
	record.Action = health.ActionRolledBack
	record.Result = rollback.Combined()
	switch rollback.Outcome() {
	case channel.OutcomeUnreachable:
		record.Action = health.ActionRecoveryUnknown
		record.Result = strings.TrimSpace(record.Result + "\nrollback not delivered: target unreachable")
	case channel.OutcomeUnknown:
		record.Action = health.ActionRecoveryUnknown
		record.Result = strings.TrimSpace(record.Result + fmt.Sprintf("\nrollback did not finish (%s)", rollback.Status))
	}
	logger.Warn().
		Str("action", string(record.Action)).
		Str("reason", probe.Reason).
		Str("tag", svc.StableTag()).
		Str("status", string(rollback.Status)).
		Msg("rolled back to stable snapshot")
	return record
}

func (m *Monitor) dispatch(ctx context.Context, comment string, commands ...string) channel.Invocation {
	return m.channel.Dispatch(ctx, channel.Batch{
		Commands: commands,
		Timeout:  m.commandTimeout,
		Comment:  comment,
	})
}

func (m *Monitor) probeSeconds() int {
	seconds := int(m.probeTimeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
