package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// TeamsSender posts Adaptive Cards to Microsoft Teams incoming webhooks.
type TeamsSender struct {
	urls   []string
	client *http.Client
	logger zerolog.Logger
}

func NewTeamsSender(cfg core.TeamsConfig, timeout time.Duration, logger zerolog.Logger) *TeamsSender {
	return &TeamsSender{
		urls:   cfg.WebhookURLs,
		client: newHTTPClient(timeout),
		logger: logger.With().Str("channel", "teams").Logger(),
	}
}

func (s *TeamsSender) Name() string { return "teams" }

func (s *TeamsSender) Send(ctx context.Context, n *core.Notification) bool {
	body, err := json.Marshal(teamsPayload(n))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode teams payload")
		return false
	}
	return eachDestination(ctx, s.logger, s.urls, redactURL, func(ctx context.Context, u string) error {
		return postJSON(ctx, s.client, u, body)
	})
}

func teamsPayload(n *core.Notification) map[string]interface{} {
	st := styleFor(n.Severity)
	card := map[string]interface{}{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body": []map[string]interface{}{
			{
				"type":   "TextBlock",
				"text":   st.emoji + " " + n.Title,
				"weight": "Bolder",
				"size":   "Medium",
				"color":  st.card,
				"wrap":   true,
			},
			{
				"type": "TextBlock",
				"text": truncate(n.Message, 2000),
				"wrap": true,
			},
			{
				"type": "FactSet",
				"facts": []map[string]string{
					{"title": "Severity", "value": n.Severity.String()},
					{"title": "Host", "value": orNA(n.Hostname())},
					{"title": "Time", "value": n.DeliveredAt.Format(time.RFC3339)},
				},
			},
		},
	}
	return map[string]interface{}{
		"type": "message",
		"attachments": []map[string]interface{}{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content":     card,
			},
		},
	}
}
