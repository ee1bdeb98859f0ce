// Package status reports whether services are running on the target.
package status

import "strings"

// Kind tags a State variant.
type Kind int

const (
	KindNotRunning Kind = iota
	KindRunning
	KindUnhealthy
)

func (k Kind) String() string {
	switch k {
	case KindRunning:
		return "running"
	case KindUnhealthy:
		return "unhealthy"
	default:
		return "not_running"
	}
}

// Cause explains a NotRunning state.
type Cause string

const (
	CauseAbsent    Cause = "absent"
	CauseStopped   Cause = "stopped"
	CauseTransport Cause = "transport"
	// CauseUnparseable covers inspect output that matched no known shape.
	CauseUnparseable Cause = "unparseable"
)

// absentMarker is the startedAt placeholder used when there is no start time.
const absentMarker = "NA"

// State is the normalized status of one service. StartedAt is set for Running and
// Unhealthy, Cause for NotRunning.
type State struct {
	Kind      Kind
	StartedAt string
	Cause     Cause
}

// Running builds a running state.
func Running(startedAt string) State {
	return State{Kind: KindRunning, StartedAt: startedAt}
}

// Unhealthy builds a state for a running container whose own HEALTHCHECK fails.
func Unhealthy(startedAt string) State {
	return State{Kind: KindUnhealthy, StartedAt: startedAt}
}

// NotRunning builds a not-running state.
func NotRunning(cause Cause) State {
	return State{Kind: KindNotRunning, Cause: cause}
}

// Encode renders "<kind>|<startedAt>", with NA when not running.
func (s State) Encode() string {
	if s.Kind == KindNotRunning {
		return s.Kind.String() + "|" + absentMarker
	}
	return s.Kind.String() + "|" + s.StartedAt
}

// Legacy renders the two-valued dashboard encoding. Unhealthy containers are still running.
func (s State) Legacy() string {
	if s.Kind == KindUnhealthy {
		return Running(s.StartedAt).Encode()
	}
	return s.Encode()
}

// Normalize maps raw "<isRunning>|<startedAt>" inspect output onto a State.
func Normalize(raw string) State {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "true|"); ok {
		return Running(rest)
	}
	switch {
	case raw == "false|"+absentMarker:
		return NotRunning(CauseAbsent)
	case strings.HasPrefix(raw, "false"):
		return NotRunning(CauseStopped)
	default:
		return NotRunning(CauseUnparseable)
	}
}
