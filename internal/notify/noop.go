package notify

import (
	"context"

	"github.com/nholik/smso/internal/transition"
	"github.com/rs/zerolog"
)

// NoopNotifier drops notifications when no destination is configured.
type NoopNotifier struct {
	logger zerolog.Logger
	reason string
}

// NewNoop logs the reason once at startup.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger, reason: reason}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(_ context.Context, source string, transitions []transition.ServiceTransition) error {
	if len(transitions) > 0 {
		n.logger.Debug().
			Str("source", source).
			Int("transitions", len(transitions)).
			Str("reason", n.reason).
			Msg("notification dropped")
	}
	return nil
}
