package notify

import (
	"context"

	"github.com/nholik/smso/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs what would have been delivered and never calls the wrapped notifier.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, source string, transitions []transition.ServiceTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	_, silent := n.inner.(*NoopNotifier)
	configured := n.inner != nil && !silent
	for _, change := range transitions {
		event := n.logger.Info().
			Str("source", source).
			Str("service", change.Name).
			Str("action", string(change.CurrentAction)).
			Bool("destination_configured", configured)
		if change.PreviousStatus != change.CurrentStatus {
			event = event.Str("status", string(change.PreviousStatus)+" -> "+string(change.CurrentStatus))
		} else {
			event = event.Str("status", string(change.CurrentStatus))
		}
		if len(change.Reasons) > 0 {
			event = event.Strs("reasons", change.Reasons)
		}
		event.Msg("[DRY-RUN] Would notify")
	}
	return nil
}
