package deploy

import (
	"fmt"

	"github.com/nholik/smso/internal/state"
)

// Kind classifies the outcome of a deploy or stop operation.
type Kind string

const (
	KindOK                  Kind = "ok"
	KindTransportError      Kind = "transport_error"
	KindRegistryError       Kind = "registry_error"
	KindVerificationFailure Kind = "verification_failure"
	KindHealthCheckFailure  Kind = "health_check_failure"
	KindRollbackUnavailable Kind = "rollback_unavailable"
	KindServiceNotFound     Kind = "service_not_found"
	KindUnknownOutcome      Kind = "unknown_outcome"
	KindBusy                Kind = "busy"
)

// Result is the outcome of one operation on one service. Message keeps the text the
// dashboard shows verbatim.
type Result struct {
	Kind     Kind     `json:"kind"`
	Service  string   `json:"service"`
	Message  string   `json:"message"`
	Image    string   `json:"image,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// BatchResult is the outcome of deploying a whole registry.
type BatchResult struct {
	Kind    Kind                     `json:"kind"`
	Message string                   `json:"message"`
	Results []Result                 `json:"results"`
	Records []state.DeploymentRecord `json:"records"`
}

func deployedMessage(name string) string {
	return name + " deployed successfully."
}

func didNotStartMessage(name string) string {
	return fmt.Sprintf("Deploy failed: %s container did not start.", name)
}

func healthFailedMessage(name string) string {
	return fmt.Sprintf("Deploy failed: %s health check failed.", name)
}

func busyMessage(name string) string {
	return fmt.Sprintf("Deploy failed: %s is busy.", name)
}

func unknownOutcomeMessage(name string) string {
	return fmt.Sprintf("Deploy failed: %s outcome unknown.", name)
}

func notFoundMessage(name string) string {
	return fmt.Sprintf("Service '%s' not found.", name)
}

func stoppedMessage(name string) string {
	return name + " stopped (if running)."
}

const (
	unreachableMessage = "Deploy failed: target unreachable."
	allDeployedMessage = "All services deployed successfully."
	allStoppedMessage  = "All services stopped successfully."
)

func rolledBackMessage(name string) string {
	return name + " rolled back to stable snapshot."
}

func noStableMessage(name string) string {
	return fmt.Sprintf("Rollback failed: no stable image for %s.", name)
}

func stopBusyMessage(name string) string {
	return fmt.Sprintf("Stop failed: %s is busy.", name)
}

func registryErrorMessage(err error) string {
	return fmt.Sprintf("Registry error: %v", err)
}

func stoppedEarlyMessage(reason string) string {
	return "Deployment stopped: " + reason
}
