package notify

import (
	"context"
	"errors"

	"github.com/nholik/smso/internal/transition"
)

// MultiNotifier fans out notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			filtered = append(filtered, notifier)
		}
	}
	return &MultiNotifier{notifiers: filtered}
}

// Notify implements Notifier. Every notifier is tried; their errors are joined.
func (m *MultiNotifier) Notify(ctx context.Context, source string, transitions []transition.ServiceTransition) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, source, transitions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
