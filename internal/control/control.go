// Package control is the dashboard-facing facade. Every operation returns the exact strings
// the dashboard displays.
package control

import (
	"context"
	"errors"

	"github.com/nholik/smso/internal/deploy"
	"github.com/nholik/smso/internal/health"
	"github.com/nholik/smso/internal/monitor"
	"github.com/nholik/smso/internal/state"
	"github.com/nholik/smso/internal/status"
	"github.com/rs/zerolog"
)

// Deployer is the subset of the orchestrator the dashboard drives.
type Deployer interface {
	DeployByName(ctx context.Context, name string) deploy.Result
	DeployConfigured(ctx context.Context) deploy.BatchResult
	StopSingle(ctx context.Context, name string) deploy.Result
	StopAll(ctx context.Context) deploy.Result
	Rollback(ctx context.Context, name string) deploy.Result
}

// Passer runs an on-demand monitor pass.
type Passer interface {
	RunPass(ctx context.Context) (monitor.Pass, error)
}

// Dashboard bundles the operations exposed to the dashboard.
type Dashboard struct {
	deployer Deployer
	query    *status.Query
	history  state.DeploymentLog
	summary  state.HealthSummary
	monitor  Passer
	logger   zerolog.Logger
}

// New builds a Dashboard. history, summary and mon may be nil.
func New(deployer Deployer, query *status.Query, history state.DeploymentLog, summary state.HealthSummary, mon Passer, logger zerolog.Logger) *Dashboard {
	return &Dashboard{
		deployer: deployer,
		query:    query,
		history:  history,
		summary:  summary,
		monitor:  mon,
		logger:   logger,
	}
}

// Deploy runs the deploy workflow for one registered service.
func (d *Dashboard) Deploy(ctx context.Context, name string) deploy.Result {
	return d.deployer.DeployByName(ctx, name)
}

// DeploySingle deploys one service and returns its message.
func (d *Dashboard) DeploySingle(ctx context.Context, name string) string {
	return d.Deploy(ctx, name).Message
}

// DeployAll deploys the whole registry.
func (d *Dashboard) DeployAll(ctx context.Context) deploy.BatchResult {
	return d.deployer.DeployConfigured(ctx)
}

// Stop stops and removes one service.
func (d *Dashboard) Stop(ctx context.Context, name string) deploy.Result {
	return d.deployer.StopSingle(ctx, name)
}

// StopSingle stops one service and returns its message.
func (d *Dashboard) StopSingle(ctx context.Context, name string) string {
	return d.Stop(ctx, name).Message
}

// StopAll stops every container on the target and returns its message.
func (d *Dashboard) StopAll(ctx context.Context) deploy.Result {
	return d.deployer.StopAll(ctx)
}

// Rollback restores a service from its stable snapshot.
func (d *Dashboard) Rollback(ctx context.Context, name string) deploy.Result {
	return d.deployer.Rollback(ctx, name)
}

// GetSingleStatus returns "running|<startedAt>" or "not_running|NA".
func (d *Dashboard) GetSingleStatus(ctx context.Context, name string) string {
	return d.query.GetSingleStatus(ctx, name)
}

// GetContainerUptime returns docker's running-for text or a sentinel.
func (d *Dashboard) GetContainerUptime(ctx context.Context, name string) string {
	return d.query.Uptime(ctx, name)
}

// GetServiceVersion returns the running image or a sentinel.
func (d *Dashboard) GetServiceVersion(ctx context.Context, name string) string {
	return d.query.Version(ctx, name)
}

// GetStatusTable returns the raw container table of the target.
func (d *Dashboard) GetStatusTable(ctx context.Context) (string, error) {
	return d.query.Table(ctx)
}

// GetDeploymentHistory returns the deployment log, empty when none exists yet.
func (d *Dashboard) GetDeploymentHistory(ctx context.Context) ([]state.DeploymentRecord, error) {
	if d.history == nil {
		return []state.DeploymentRecord{}, nil
	}
	return d.history.History(ctx)
}

// GetHealthSummary returns the records of the most recent monitor pass.
func (d *Dashboard) GetHealthSummary(ctx context.Context) ([]health.Record, error) {
	if d.summary == nil {
		return []health.Record{}, nil
	}
	records, err := d.summary.Load(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []health.Record{}
	}
	return records, nil
}

// RunMonitor runs one monitor pass now.
func (d *Dashboard) RunMonitor(ctx context.Context) (monitor.Pass, error) {
	if d.monitor == nil {
		return monitor.Pass{}, ErrMonitorDisabled
	}
	return d.monitor.RunPass(ctx)
}

// ErrMonitorDisabled is returned when no monitor is configured.
var ErrMonitorDisabled = errors.New("health monitor is not configured")
