package notify

import (
	"context"

	"github.com/nholik/smso/internal/transition"
)

// Source names the workflow that produced a batch of transitions.
const (
	SourceMonitor = "monitor"
	SourceDeploy  = "deploy"
)

// Notifier delivers transition alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, source string, transitions []transition.ServiceTransition) error
}
