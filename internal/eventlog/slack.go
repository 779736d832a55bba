package eventlog

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/anthropics/issuebot/internal/model"
)

// SlackSink posts WARN/ERROR events to a Slack channel via an incoming
// webhook, giving an operator a live view without polling the store.
type SlackSink struct {
	webhookURL string
	channel    string
}

// NewSlackSink builds a SlackSink. webhookURL must be non-empty; callers
// should leave the overall Sink nil (see eventlog.New) rather than
// constructing a SlackSink with an empty URL.
func NewSlackSink(webhookURL, channel string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL, channel: channel}
}

// Notify implements Sink.
func (s *SlackSink) Notify(ctx context.Context, event *model.Event) error {
	icon := ":warning:"
	if event.Severity == model.SeverityError {
		icon = ":rotating_light:"
	}

	msg := slack.WebhookMessage{
		Channel: s.channel,
		Text:    fmt.Sprintf("%s *%s* — %s", icon, event.EventType, event.Message),
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, &msg)
}
