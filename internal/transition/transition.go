package transition

import (
	"github.com/nholik/smso/internal/health"
)

// ServiceTransition captures a status change for one service.
type ServiceTransition struct {
	Name           string               `json:"name"`
	PreviousStatus health.ServiceStatus `json:"previous_status"`
	CurrentStatus  health.ServiceStatus `json:"current_status"`
	PreviousAction health.Action        `json:"previous_action,omitempty"`
	CurrentAction  health.Action        `json:"current_action,omitempty"`
	Reasons        []string             `json:"reasons,omitempty"`
}

// DetectServiceTransitions compares the previous pass with the current one. On the first
// pass only unhealthy services are reported. Every rollback is reported, even when the
// previous pass also rolled back, since each one restarts the container.
func DetectServiceTransitions(prev []health.Record, current []health.Record) []ServiceTransition {
	prevRecords := make(map[string]health.Record, len(prev))
	for _, record := range prev {
		prevRecords[record.Service] = record
	}
	firstRun := len(prevRecords) == 0

	transitions := make([]ServiceTransition, 0)
	for _, record := range current {
		prevRecord, hadPrev := prevRecords[record.Service]
		currentStatus := record.Status()

		switch {
		case record.Action == health.ActionRolledBack:
		case firstRun || !hadPrev:
			if currentStatus == health.StatusOK {
				continue
			}
		case prevRecord.Status() == currentStatus:
			continue
		}

		change := ServiceTransition{
			Name:          record.Service,
			CurrentStatus: currentStatus,
			CurrentAction: record.Action,
			Reasons:       reasons(record),
		}
		if hadPrev {
			change.PreviousStatus = prevRecord.Status()
			change.PreviousAction = prevRecord.Action
		}
		transitions = append(transitions, change)
	}

	return transitions
}

// DeployFailed describes a failed deployment as a transition to FAILED.
func DeployFailed(name, reason string) ServiceTransition {
	return ServiceTransition{
		Name:          name,
		CurrentStatus: health.StatusFailed,
		Reasons:       []string{reason},
	}
}

func reasons(record health.Record) []string {
	switch record.Action {
	case health.ActionHealthy:
		return nil
	case health.ActionRolledBack:
		out := []string{"health check failed, rolled back to stable snapshot"}
		if record.Health != "" {
			out = append(out, "probe: "+record.Health)
		}
		return out
	case health.ActionSkippedBusy:
		return []string{record.Result}
	default:
		out := []string{record.Result}
		if record.Health != "" {
			out = append(out, "probe: "+record.Health)
		}
		return out
	}
}
