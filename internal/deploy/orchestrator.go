// Package deploy runs the deploy, verify, health check and commit workflow for services.
package deploy

import (
	"context"
	"strings"
	"time"

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
	defaultGracePeriod    = 5 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultCommandTimeout = 60 * time.Second
)

// Orchestrator deploys and stops services on the target. Every mutating workflow holds the
// service lease for its whole duration.
type Orchestrator struct {
	channel  channel.Channel
	docker   dockercmd.Builder
	source   registry.Source
	leases   *lease.Manager
	log      state.DeploymentLog
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	gracePeriod    time.Duration
	probeTimeout   time.Duration
	commandTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGracePeriod sets the wait between docker run and the running check.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.gracePeriod = d
	}
}

// WithProbeTimeout bounds each /healthz request.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithCommandTimeout sets the execution timeout sent with each batch.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// WithLeases shares a lease manager with other workflows.
func WithLeases(m *lease.Manager) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.leases = m
		}
	}
}

// WithDeploymentLog records every deploy attempt.
func WithDeploymentLog(log state.DeploymentLog) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithNotifier reports failed deployments.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithMetrics records deployment outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSleep replaces the grace period sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithClock replaces the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds an Orchestrator for the services in source.
func New(ch channel.Channel, docker dockercmd.Builder, source registry.Source, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		channel:        ch,
		docker:         docker,
		source:         source,
		leases:         lease.NewManager(),
		logger:         logger,
		gracePeriod:    defaultGracePeriod,
		probeTimeout:   defaultProbeTimeout,
		commandTimeout: defaultCommandTimeout,
		sleep:          sleepContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Deploy runs the workflow for one service:
// stop, remove, pull, run, wait, verify running, probe health, commit stable snapshot.
func (o *Orchestrator) Deploy(ctx context.Context, svc registry.Service) Result {
	logger := o.logger.With().Str("service", svc.Name).Str("image", svc.Image).Logger()

	release, err := o.leases.Acquire(ctx, svc.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("deploy lease not acquired")
		return o.finish(ctx, logger, Result{Kind: KindBusy, Service: svc.Name, Message: busyMessage(svc.Name)})
	}
	defer release()

	return o.finish(ctx, logger, o.deploy(ctx, logger, svc))
}

func (o *Orchestrator) deploy(ctx context.Context, logger zerolog.Logger, svc registry.Service) Result {
	result := Result{Service: svc.Name}

	hostPort, err := svc.HostPort()
	if err != nil {
		result.Kind = KindRegistryError
		result.Message = registryErrorMessage(err)
		return result
	}

	start := o.dispatch(ctx, "deploy "+svc.Name,
		o.docker.Stop(svc.Name),
		o.docker.Remove(svc.Name),
		o.docker.Pull(svc.Image),
		o.docker.Run(svc.Name, svc.Port, svc.Image),
	)
	startOutcome := start.Outcome()
	switch startOutcome {
	case channel.OutcomeUnreachable:
		return transportFailure(result)
	case channel.OutcomeSucceeded:
	default:
		// Only the running check decides; a failed pull may still leave a usable image.
		result.warn("start commands finished with status %s", start.Status)
		logger.Warn().Str("status", string(start.Status)).Str("stderr", strings.TrimSpace(start.Stderr)).Msg("start commands did not succeed")
	}

	if err := o.sleep(ctx, o.gracePeriod); err != nil {
		result.Kind = KindUnknownOutcome
		result.Message = unknownOutcomeMessage(svc.Name)
		result.warn("grace period interrupted: %v", err)
		return result
	}

	verify := o.dispatch(ctx, "verify "+svc.Name, o.docker.ListNames(svc.Name))
	switch verify.Outcome() {
	case channel.OutcomeUnreachable:
		return transportFailure(result)
	case channel.OutcomeUnknown:
		result.Kind = KindUnknownOutcome
		result.Message = unknownOutcomeMessage(svc.Name)
		return result
	}
	if !listsName(verify.Output(), svc.Name) {
		if startOutcome == channel.OutcomeUnknown {
			// The start batch may still be running on the target and start the container later.
			logger.Warn().Msg("container not listed while start commands are still unfinished")
			result.Kind = KindUnknownOutcome
			result.Message = unknownOutcomeMessage(svc.Name)
			return result
		}
		logger.Error().Msg("container did not start")
		result.Kind = KindVerificationFailure
		result.Message = didNotStartMessage(svc.Name)
		return result
	}

	probeInv := o.dispatch(ctx, "healthz "+svc.Name, dockercmd.Probe(hostPort, o.probeSeconds()))
	if probeInv.Outcome() == channel.OutcomeUnreachable {
		return transportFailure(result)
	}
	if probe := health.EvaluateProbe(probeInv); !probe.Healthy {
		logger.Error().Str("reason", probe.Reason).Str("output", probe.Output).Msg("post-deploy health check failed")
		cleanup := o.dispatch(ctx, "cleanup "+svc.Name, o.docker.Stop(svc.Name), o.docker.Remove(svc.Name))
		if cleanup.Outcome() != channel.OutcomeSucceeded {
			result.warn("cleanup after failed health check finished with status %s", cleanup.Status)
		}
		result.Kind = KindHealthCheckFailure
		result.Message = healthFailedMessage(svc.Name)
		return result
	}

	commit := o.dispatch(ctx, "commit "+svc.Name, o.docker.Commit(svc.Name, svc.StableTag()))
	if commit.Outcome() != channel.OutcomeSucceeded {
		logger.Warn().Str("status", string(commit.Status)).Str("tag", svc.StableTag()).Msg("commit stable snapshot failed")
		result.warn("commit stable snapshot failed")
	}

	result.Kind = KindOK
	result.Message = deployedMessage(svc.Name)
	result.Image = svc.Image
	return result
}

// DeployByName deploys one registered service.
func (o *Orchestrator) DeployByName(ctx context.Context, name string) Result {
	reg, err := o.source.Load(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("load registry")
		return Result{Kind: KindRegistryError, Service: name, Message: registryErrorMessage(err)}
	}
	svc, err := reg.Lookup(name)
	if err != nil {
		return Result{Kind: KindServiceNotFound, Service: name, Message: notFoundMessage(name)}
	}

	result := o.Deploy(ctx, svc)
	o.record(ctx, o.recordFor(svc, result))
	return result
}

// DeployAll deploys services in registry order and stops at the first failure. Services
// after the failure are not attempted and leave no record.
func (o *Orchestrator) DeployAll(ctx context.Context, reg registry.Registry) BatchResult {
	batch := BatchResult{Kind: KindOK, Message: allDeployedMessage}

	for _, svc := range reg.Services {
		result := o.Deploy(ctx, svc)
		record := o.recordFor(svc, result)
		batch.Results = append(batch.Results, result)
		batch.Records = append(batch.Records, record)

		if !result.OK() {
			batch.Kind = result.Kind
			batch.Message = stoppedEarlyMessage(result.Message)
			o.logger.Error().Str("service", svc.Name).Str("kind", string(result.Kind)).Msg("deployment stopped")
			break
		}
	}

	o.record(ctx, batch.Records...)
	return batch
}

// DeployConfigured loads the registry and deploys all of it.
func (o *Orchestrator) DeployConfigured(ctx context.Context) BatchResult {
	reg, err := o.source.Load(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("load registry")
		return BatchResult{Kind: KindRegistryError, Message: registryErrorMessage(err)}
	}
	return o.DeployAll(ctx, reg)
}

func (o *Orchestrator) finish(ctx context.Context, logger zerolog.Logger, result Result) Result {
	o.metrics.IncDeployment(result.Service, string(result.Kind))

	if result.OK() {
		logger.Info().Strs("warnings", result.Warnings).Msg(result.Message)
		return result
	}

	logger.Error().Str("kind", string(result.Kind)).Strs("warnings", result.Warnings).Msg(result.Message)
	if o.notifier != nil {
		change := transition.DeployFailed(result.Service, result.Message)
		if err := o.notifier.Notify(ctx, notify.SourceDeploy, []transition.ServiceTransition{change}); err != nil {
			o.metrics.IncNotificationErrors()
			logger.Warn().Err(err).Msg("deploy failure notification failed")
		}
	}
	return result
}

func (o *Orchestrator) recordFor(svc registry.Service, result Result) state.DeploymentRecord {
	if result.OK() {
		return state.NewDeployedRecord(svc.Name, svc.Image, o.now())
	}
	return state.NewFailedRecord(svc.Name, result.Message, o.now())
}

func (o *Orchestrator) record(ctx context.Context, records ...state.DeploymentRecord) {
	if o.log == nil || len(records) == 0 {
		return
	}
	if err := o.log.Append(ctx, records...); err != nil {
		o.logger.Error().Err(err).Int("records", len(records)).Msg("append deployment log")
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, comment string, commands ...string) channel.Invocation {
	return o.channel.Dispatch(ctx, channel.Batch{
		Commands: commands,
		Timeout:  o.commandTimeout,
		Comment:  comment,
	})
}

func (o *Orchestrator) probeSeconds() int {
	seconds := int(o.probeTimeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func transportFailure(result Result) Result {
	result.Kind = KindTransportError
	result.Message = unreachableMessage
	return result
}

// listsName reports whether name is one of the listed container names. docker's name
// filter matches substrings, so the comparison is per line.
func listsName(output, name string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == name {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
