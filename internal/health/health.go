package health

// ServiceStatus represents the health of a service after a monitor pass.
type ServiceStatus string

const (
	StatusOK       ServiceStatus = "OK"
	StatusDegraded ServiceStatus = "DEGRADED"
	StatusFailed   ServiceStatus = "FAILED"
)

// Action is what the monitor did for a service in one pass.
type Action string

const (
	ActionHealthy       Action = "healthy"
	ActionRolledBack    Action = "rolled_back_to_stable"
	ActionNoStableImage Action = "no_stable_image"
	// ActionSkippedBusy means another workflow held the service lease for the whole wait.
	ActionSkippedBusy Action = "skipped_busy"
	// ActionRecoveryUnknown means the stable lookup or the rollback was not delivered or did
	// not finish, so whether a snapshot exists or the container was restored is unknown.
	ActionRecoveryUnknown Action = "recovery_unknown"
)

// NoStableResult is the record result when there is nothing to roll back to.
const NoStableResult = "No stable image to rollback"

// Record is one service's outcome in one monitor pass.
type Record struct {
	Service string `json:"service"`
	Time    int64  `json:"time"`
	Health  string `json:"health"`
	Action  Action `json:"action"`
	Result  string `json:"result"`
}

// Status maps the record action onto a service status.
func (r Record) Status() ServiceStatus {
	switch r.Action {
	case ActionHealthy:
		return StatusOK
	case ActionRolledBack, ActionSkippedBusy:
		return StatusDegraded
	default:
		return StatusFailed
	}
}

// PassHealth summarizes a monitor pass.
type PassHealth struct {
	Status   ServiceStatus
	Services map[string]Record
}
