package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nholik/smso/internal/channel"
	"github.com/nholik/smso/internal/config"
	"github.com/nholik/smso/internal/control"
	"github.com/nholik/smso/internal/deploy"
	"github.com/nholik/smso/internal/dockercmd"
	"github.com/nholik/smso/internal/healthcheck"
	"github.com/nholik/smso/internal/lease"
	"github.com/nholik/smso/internal/logging"
	"github.com/nholik/smso/internal/metrics"
	"github.com/nholik/smso/internal/monitor"
	"github.com/nholik/smso/internal/notify"
	"github.com/nholik/smso/internal/registry"
	"github.com/nholik/smso/internal/state"
	"github.com/nholik/smso/internal/status"
	"github.com/rs/zerolog"
)

// app holds every component built from one Config. Deploys and monitor passes share the
// same lease manager so they never act on one service at the same time.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracker   *healthcheck.Tracker
	channel   channel.Channel
	leases    *lease.Manager
	notifier  notify.Notifier
	deployer  *deploy.Orchestrator
	monitor   *monitor.Monitor
	query     *status.Query
	history   *state.FileDeploymentLog
	summary   *state.FileHealthSummary
	dashboard *control.Dashboard
}

// channelFactory builds the command channel and names its target. Tests replace it.
var channelFactory = defaultChannel

func defaultChannel(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger zerolog.Logger) (channel.Channel, string, error) {
	var backend channel.Backend
	switch cfg.Channel {
	case config.ChannelLocal:
		backend = channel.NewLocal()
	case config.ChannelSSM:
		ssm, err := channel.NewSSM(ctx, cfg.InstanceID, cfg.Region)
		if err != nil {
			return nil, "", err
		}
		backend = ssm
	default:
		return nil, "", fmt.Errorf("unknown channel %q", cfg.Channel)
	}

	poller := channel.NewPoller(backend, logger,
		channel.WithInterval(cfg.PollInterval),
		channel.WithAttempts(cfg.PollAttempts),
		channel.WithMetrics(m),
	)
	return poller, backend.Target(), nil
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		tracker: healthcheck.NewTracker(),
	}

	ch, target, err := channelFactory(ctx, cfg, a.metrics, logging.Component(logger, "channel"))
	if err != nil {
		return nil, fmt.Errorf("command channel: %w", err)
	}
	a.channel = ch

	source, err := registry.NewSource(cfg.Registry, cfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("service registry: %w", err)
	}

	a.notifier, err = buildNotifier(logging.Component(logger, "notify"), cfg, target)
	if err != nil {
		return nil, err
	}

	docker := dockercmd.Builder{Sudo: cfg.UseSudo}
	a.leases = lease.NewManager(
		lease.WithTimeout(cfg.LeaseTimeout),
		lease.WithLockDir(filepath.Join(cfg.LockDir, target)),
		lease.WithMetrics(a.metrics),
	)
	a.history = state.NewFileDeploymentLog(cfg.DeployLog, logger)
	a.summary = state.NewFileHealthSummary(cfg.HealthSummary, logger)

	a.deployer = deploy.New(a.channel, docker, source, logging.Component(logger, "deploy"),
		deploy.WithGracePeriod(cfg.GracePeriod),
		deploy.WithProbeTimeout(cfg.ProbeTimeout),
		deploy.WithCommandTimeout(cfg.CommandTimeout),
		deploy.WithLeases(a.leases),
		deploy.WithDeploymentLog(a.history),
		deploy.WithNotifier(a.notifier),
		deploy.WithMetrics(a.metrics),
	)
	a.monitor = monitor.New(a.channel, docker, source, logging.Component(logger, "monitor"),
		monitor.WithLeases(a.leases),
		monitor.WithHealthSummary(a.summary),
		monitor.WithHealthLog(state.NewRemoteHealthLog(a.channel, cfg.RemoteLogDir, cfg.CommandTimeout)),
		monitor.WithNotifier(a.notifier),
		monitor.WithMetrics(a.metrics),
		monitor.WithProbeTimeout(cfg.ProbeTimeout),
		monitor.WithCommandTimeout(cfg.CommandTimeout),
	)
	a.query = status.NewQuery(a.channel, docker, cfg.CommandTimeout, logging.Component(logger, "status"))
	a.dashboard = control.New(a.deployer, a.query, a.history, a.summary, a.monitor, logging.Component(logger, "control"))
	return a, nil
}

func buildNotifier(logger zerolog.Logger, cfg config.Config, target string) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL, notify.WithSlackTarget(target)))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, target, cfg.WebhookTemplate)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}

	var notifier notify.Notifier
	switch len(notifiers) {
	case 0:
		notifier = notify.NewNoop(logger, "no notification targets configured")
	case 1:
		notifier = notifiers[0]
	default:
		notifier = notify.NewMultiNotifier(notifiers...)
	}

	if cfg.NotifyDryRun {
		return notify.NewDryRunNotifier(logger, notifier), nil
	}
	return notifier, nil
}
