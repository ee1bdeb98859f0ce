package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nholik/smso/internal/health"
	"github.com/nholik/smso/internal/transition"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	target     string
	timing     timing
	poster     *poster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// WithSlackTarget names the managed target in message context.
func WithSlackTarget(target string) SlackOption {
	return func(s *SlackNotifier) {
		s.target = target
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newPoster(logger, "slack", webhookURL, notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, source string, transitions []transition.ServiceTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	sourceName := source
	if sourceName == "" {
		sourceName = SourceMonitor
	}
	messages := buildSlackMessages(sourceName, n.target, transitions)
	payloads := make([][]byte, 0, len(messages))
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := n.poster.deliver(ctx, sourceName, payloads...); err != nil {
		return err
	}

	n.logger.Debug().
		Str("source", sourceName).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

func buildSlackMessages(source, target string, transitions []transition.ServiceTransition) []slack.WebhookMessage {
	if len(transitions) == 0 {
		return nil
	}

	chunks := lo.Chunk(transitions, slackMaxTransitions)
	return lo.Map(chunks, func(chunk []transition.ServiceTransition, i int) slack.WebhookMessage {
		return buildSlackMessage(source, target, chunk, len(transitions), i+1, len(chunks))
	})
}

func buildSlackMessage(source, target string, transitions []transition.ServiceTransition, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("%s: %d service transition(s)", sourceLabel(source), total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Source: *%s*", source), false, false),
	}
	if target != "" {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Target: `%s`", target), false, false))
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildTransitionBlock(change transition.ServiceTransition) slack.Block {
	title := fmt.Sprintf("%s *%s*: `%s` → `%s`", statusMarker(change.CurrentStatus), change.Name, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 2)
	if change.CurrentAction != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatAction(change), false, false))
	}
	if len(change.Reasons) > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reasons:*\n"+strings.Join(change.Reasons, ", "), false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatAction(change transition.ServiceTransition) string {
	if change.PreviousAction == "" {
		return fmt.Sprintf("*Action:*\n`%s`", change.CurrentAction)
	}
	return fmt.Sprintf("*Action:*\n`%s` → `%s`", change.PreviousAction, change.CurrentAction)
}

func sourceLabel(source string) string {
	switch source {
	case SourceDeploy:
		return "Deployment"
	case SourceMonitor:
		return "Health monitor"
	default:
		return source
	}
}

func statusLabel(status health.ServiceStatus) string {
	if status == "" {
		return "UNKNOWN"
	}
	return string(status)
}

func statusMarker(status health.ServiceStatus) string {
	switch status {
	case health.StatusOK:
		return ":large_green_circle:"
	case health.StatusDegraded:
		return ":large_yellow_circle:"
	default:
		return ":red_circle:"
	}
}
