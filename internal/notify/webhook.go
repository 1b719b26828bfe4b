package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// WebhookSender posts a generic JSON document to every configured URL.
// Slack incoming-webhook URLs receive the Slack payload instead.
type WebhookSender struct {
	urls   []string
	method string
	client *http.Client
	logger zerolog.Logger
}

type webhookPayload struct {
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity"`
	Timestamp string                 `json:"timestamp"`
	Hostname  string                 `json:"hostname"`
	Data      map[string]interface{} `json:"data"`
}

func NewWebhookSender(cfg core.WebhookConfig, timeout time.Duration, logger zerolog.Logger) *WebhookSender {
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookSender{
		urls:   cfg.URLs,
		method: method,
		client: newHTTPClient(timeout),
		logger: logger.With().Str("channel", "webhook").Logger(),
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, n *core.Notification) bool {
	generic, err := json.Marshal(webhookPayload{
		Title:     n.Title,
		Message:   n.Message,
		Severity:  n.Severity.String(),
		Timestamp: n.DeliveredAt.Format(time.RFC3339),
		Hostname:  n.Hostname(),
		Data:      n.Attributes,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode webhook payload")
		return false
	}
	return eachDestination(ctx, s.logger, s.urls, redactURL, func(ctx context.Context, u string) error {
		body := generic
		if isSlackURL(u) {
			if body, err = json.Marshal(slackPayload(n)); err != nil {
				return err
			}
		}
		return do(ctx, s.client, s.method, u, "application/json", body, nil)
	})
}

func isSlackURL(u string) bool {
	return strings.Contains(u, "hooks.slack.com")
}
