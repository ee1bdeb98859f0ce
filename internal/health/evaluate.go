package health

import (
	"strings"

	"github.com/nholik/smso/internal/channel"
	"github.com/nholik/smso/internal/dockercmd"
)

// Probe is the evaluated result of one /healthz request issued on the target.
type Probe struct {
	Healthy bool
	// Output is the trimmed probe stdout, kept verbatim in health records.
	Output string
	Reason string
}

// EvaluateProbe classifies a probe invocation. Anything other than a finished command with
// non-empty output and no failure marker is unhealthy.
func EvaluateProbe(inv channel.Invocation) Probe {
	probe := Probe{Output: inv.Output()}

	switch inv.Outcome() {
	case channel.OutcomeUnreachable:
		probe.Reason = "target unreachable"
	case channel.OutcomeUnknown:
		probe.Reason = "probe outcome unknown"
	case channel.OutcomeFailed:
		probe.Reason = "probe command failed"
	default:
		switch {
		case strings.Contains(probe.Output, dockercmd.HealthFailMarker):
			probe.Reason = "healthz request failed"
		case probe.Output == "":
			probe.Reason = "empty probe output"
		default:
			probe.Healthy = true
		}
	}
	return probe
}

// Summarize folds pass records into one status, keyed by service.
func Summarize(records []Record) PassHealth {
	result := PassHealth{
		Status:   StatusOK,
		Services: make(map[string]Record, len(records)),
	}
	for _, record := range records {
		result.Services[record.Service] = record
		result.Status = worsenStatus(result.Status, record.Status())
	}
	return result
}

// Unhealthy returns the records whose action is not healthy, in order.
func Unhealthy(records []Record) []Record {
	var out []Record
	for _, record := range records {
		if record.Action != ActionHealthy {
			out = append(out, record)
		}
	}
	return out
}

func worsenStatus(current, next ServiceStatus) ServiceStatus {
	if severity(next) > severity(current) {
		return next
	}
	return current
}

func severity(status ServiceStatus) int {
	switch status {
	case StatusFailed:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
