package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/nholik/smso/internal/channel"
	"github.com/nholik/smso/internal/dockercmd"
	"github.com/nholik/smso/internal/registry"
	"github.com/rs/zerolog"
)

// Sentinels returned by the read-only queries. Dashboards match these verbatim.
const (
	NotRunningText      = "Not Running"
	UnknownVersionText  = "Unknown"
	InstanceStoppedText = "Instance Stopped"
)

// healthUnhealthy is docker's HEALTHCHECK status for a failing container.
const healthUnhealthy = "unhealthy"

// Query runs read-only status queries over the channel.
type Query struct {
	channel channel.Channel
	docker  dockercmd.Builder
	timeout time.Duration
	logger  zerolog.Logger
}

// NewQuery builds a Query.
func NewQuery(ch channel.Channel, docker dockercmd.Builder, timeout time.Duration, logger zerolog.Logger) *Query {
	return &Query{channel: ch, docker: docker, timeout: timeout, logger: logger}
}

// Single returns the normalized state from the running-state inspect query.
func (q *Query) Single(ctx context.Context, name string) State {
	if !q.validName(name) {
		return NotRunning(CauseAbsent)
	}
	inv := q.run(ctx, "status "+name, q.docker.InspectRunning(name))
	if inv.Outcome() != channel.OutcomeSucceeded {
		q.logger.Warn().Str("service", name).Str("status", string(inv.Status)).Msg("status query did not complete")
		return NotRunning(CauseTransport)
	}
	return Normalize(inv.Output())
}

// GetSingleStatus returns "running|<startedAt>" or "not_running|NA".
func (q *Query) GetSingleStatus(ctx context.Context, name string) string {
	return q.Single(ctx, name).Legacy()
}

// Inspect decodes the full container state so unhealthy containers can be told apart
// from running ones.
func (q *Query) Inspect(ctx context.Context, name string) State {
	if !q.validName(name) {
		return NotRunning(CauseAbsent)
	}
	inv := q.run(ctx, "inspect "+name, q.docker.InspectState(name))
	switch inv.Outcome() {
	case channel.OutcomeSucceeded:
	case channel.OutcomeFailed:
		if strings.Contains(inv.Stderr, "No such object") || strings.Contains(inv.Stderr, "No such container") {
			return NotRunning(CauseAbsent)
		}
		return NotRunning(CauseUnparseable)
	default:
		return NotRunning(CauseTransport)
	}

	state, err := decodeState(inv.Output())
	if err != nil {
		q.logger.Warn().Err(err).Str("service", name).Msg("decode container state")
		return NotRunning(CauseUnparseable)
	}
	switch {
	case !state.Running:
		return NotRunning(CauseStopped)
	case state.Health != nil && state.Health.Status == healthUnhealthy:
		return Unhealthy(state.StartedAt)
	default:
		return Running(state.StartedAt)
	}
}

// Uptime returns how long the service has been running, or a sentinel.
func (q *Query) Uptime(ctx context.Context, name string) string {
	if !q.validName(name) {
		return NotRunningText
	}
	return q.bestEffort(ctx, "uptime "+name, q.docker.RunningFor(name), NotRunningText)
}

// Version returns the image the service runs, or a sentinel.
func (q *Query) Version(ctx context.Context, name string) string {
	if !q.validName(name) {
		return UnknownVersionText
	}
	return q.bestEffort(ctx, "version "+name, q.docker.Image(name), UnknownVersionText)
}

// Table returns the raw running-container table.
func (q *Query) Table(ctx context.Context) (string, error) {
	inv := q.run(ctx, "status table", q.docker.StatusTable())
	switch inv.Outcome() {
	case channel.OutcomeSucceeded:
		return inv.Stdout, nil
	case channel.OutcomeUnreachable:
		return "", fmt.Errorf("status table: %w", channel.ErrUnreachable)
	default:
		return inv.Stdout, fmt.Errorf("status table: command %s", strings.ToLower(string(inv.Status)))
	}
}

// validName rejects names no container can have; they are answered locally without a dispatch.
func (q *Query) validName(name string) bool {
	if err := registry.ValidName(name); err != nil {
		q.logger.Warn().Err(err).Msg("status query refused")
		return false
	}
	return true
}

func (q *Query) bestEffort(ctx context.Context, comment, command, fallback string) string {
	inv := q.run(ctx, comment, command)
	if inv.Outcome() == channel.OutcomeUnreachable {
		return InstanceStoppedText
	}
	if out := inv.Output(); out != "" {
		return out
	}
	return fallback
}

func (q *Query) run(ctx context.Context, comment string, command string) channel.Invocation {
	return q.channel.Dispatch(ctx, channel.Batch{
		Commands: []string{command},
		Timeout:  q.timeout,
		Comment:  comment,
	})
}

func decodeState(raw string) (types.ContainerState, error) {
	var state types.ContainerState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return types.ContainerState{}, fmt.Errorf("decode container state: %w", err)
	}
	return state, nil
}
