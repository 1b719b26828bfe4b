package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const (
	discordTitleLimit       = 256
	discordDescriptionLimit = 4096
	discordFieldLimit       = 1024
	discordFooterLimit      = 2048
	// discordEmbedLimit bounds title, description, field names and values
	// and footer text of one embed combined.
	discordEmbedLimit = 6000
)

// DiscordSender posts embeds to Discord webhooks.
type DiscordSender struct {
	urls     []string
	username string
	client   *http.Client
	logger   zerolog.Logger
}

func NewDiscordSender(cfg core.DiscordConfig, timeout time.Duration, logger zerolog.Logger) *DiscordSender {
	return &DiscordSender{
		urls:     cfg.WebhookURLs,
		username: cfg.Username,
		client:   newHTTPClient(timeout),
		logger:   logger.With().Str("channel", "discord").Logger(),
	}
}

func (s *DiscordSender) Name() string { return "discord" }

func (s *DiscordSender) Send(ctx context.Context, n *core.Notification) bool {
	body, err := json.Marshal(discordPayload(s.username, n))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode discord payload")
		return false
	}
	return eachDestination(ctx, s.logger, s.urls, redactURL, func(ctx context.Context, u string) error {
		return postJSON(ctx, s.client, u, body)
	})
}

func discordPayload(username string, n *core.Notification) map[string]interface{} {
	st := styleFor(n.Severity)
	title := truncate(st.emoji+" "+n.Title, discordTitleLimit)
	footer := truncate("Vigil alert "+shortID(n.ID), discordFooterLimit)
	fields := []map[string]interface{}{
		{"name": "Severity", "value": n.Severity.String(), "inline": true},
		{"name": "Host", "value": truncate(orNA(n.Hostname()), discordFieldLimit), "inline": true},
		{"name": "Type", "value": truncate(string(n.Kind), discordFieldLimit), "inline": true},
	}

	used := utf8.RuneCountInString(title) + utf8.RuneCountInString(footer)
	for _, f := range fields {
		used += utf8.RuneCountInString(f["name"].(string)) + utf8.RuneCountInString(f["value"].(string))
	}
	budget := discordEmbedLimit - used
	if budget > discordDescriptionLimit {
		budget = discordDescriptionLimit
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": truncate(n.Message, budget),
				"color":       st.embed,
				"fields":      fields,
				"footer":      map[string]string{"text": footer},
				"timestamp":   n.DeliveredAt.Format(time.RFC3339),
			},
		},
	}
	if username != "" {
		payload["username"] = username
	}
	return payload
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
