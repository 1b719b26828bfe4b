package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// SlackSender posts to Slack incoming webhooks.
type SlackSender struct {
	urls   []string
	client *http.Client
	logger zerolog.Logger
}

func NewSlackSender(cfg core.SlackConfig, timeout time.Duration, logger zerolog.Logger) *SlackSender {
	return &SlackSender{
		urls:   cfg.WebhookURLs,
		client: newHTTPClient(timeout),
		logger: logger.With().Str("channel", "slack").Logger(),
	}
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, n *core.Notification) bool {
	body, err := json.Marshal(slackPayload(n))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode slack payload")
		return false
	}
	return eachDestination(ctx, s.logger, s.urls, redactURL, func(ctx context.Context, u string) error {
		return postJSON(ctx, s.client, u, body)
	})
}

func slackPayload(n *core.Notification) map[string]interface{} {
	return map[string]interface{}{
		"text": "🚨 *" + n.Title + "*",
		"attachments": []map[string]interface{}{
			{
				"color": styleFor(n.Severity).slack,
				"fields": []map[string]interface{}{
					{"title": "Message", "value": truncate(n.Message, 3000), "short": false},
					{"title": "Severity", "value": n.Severity.String(), "short": true},
					{"title": "Host", "value": orNA(n.Hostname()), "short": true},
					{"title": "Time", "value": n.DeliveredAt.Format(time.RFC3339), "short": true},
				},
			},
		},
	}
}
