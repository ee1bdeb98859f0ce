package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/smso/internal/health"
	"github.com/nholik/smso/internal/transition"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"source":"{{ .Source }}","target":"{{ .Target }}","generated_at":"{{ rfc3339 .GeneratedAt }}","rollbacks":{{ len (rolledBack .Transitions) }},"transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Source      string
	Target      string
	Transitions []transition.ServiceTransition
	GeneratedAt time.Time
}

// WebhookNotifier renders transitions through a text/template and posts the result as JSON.
type WebhookNotifier struct {
	logger   zerolog.Logger
	target   string
	template *template.Template
	poster   *poster
	now      func() time.Time
}

// webhookFuncs are available to custom templates alongside the text/template builtins.
var webhookFuncs = template.FuncMap{
	"toJson": func(v any) (string, error) {
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	},
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"failed": func(changes []transition.ServiceTransition) []transition.ServiceTransition {
		return filterTransitions(changes, func(c transition.ServiceTransition) bool {
			return c.CurrentStatus == health.StatusFailed
		})
	},
	"rolledBack": func(changes []transition.ServiceTransition) []transition.ServiceTransition {
		return filterTransitions(changes, func(c transition.ServiceTransition) bool {
			return c.CurrentAction == health.ActionRolledBack
		})
	},
}

// NewWebhookNotifier returns nil without error when webhookURL is empty.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL, target, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}
	parsed, err := template.New("webhook").Funcs(webhookFuncs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		target:   target,
		template: parsed,
		poster:   newPoster(logger, "webhook", webhookURL, defaultTiming),
		now:      time.Now,
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, source string, transitions []transition.ServiceTransition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}
	if source == "" {
		source = SourceMonitor
	}

	body, err := n.render(source, transitions)
	if err != nil {
		return err
	}
	if err := n.poster.deliver(ctx, source, body); err != nil {
		return err
	}

	n.logger.Debug().
		Str("source", source).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")
	return nil
}

func (n *WebhookNotifier) render(source string, transitions []transition.ServiceTransition) ([]byte, error) {
	var buf bytes.Buffer
	err := n.template.Execute(&buf, WebhookPayload{
		Source:      source,
		Target:      n.target,
		Transitions: transitions,
		GeneratedAt: n.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render webhook template: %w", err)
	}
	return buf.Bytes(), nil
}

func filterTransitions(changes []transition.ServiceTransition, keep func(transition.ServiceTransition) bool) []transition.ServiceTransition {
	out := make([]transition.ServiceTransition, 0, len(changes))
	for _, change := range changes {
		if keep(change) {
			out = append(out, change)
		}
	}
	return out
}
