package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// Build constructs the senders selected by alerts.alert_method whose
// sections are enabled. A channel that is enabled but lacks credentials or
// destinations is skipped with a warning. bus may be nil when NATS is off.
// The signature matches core.SenderFactory.
func Build(cfg *core.Config, bus *core.Bus, logger zerolog.Logger) ([]core.Sender, error) {
	return build(cfg, bus, nil, logger)
}

// BuildWithNotifier is Build with an explicit desktop notifier.
func BuildWithNotifier(notifier Notifier) core.SenderFactory {
	return func(cfg *core.Config, bus *core.Bus, logger zerolog.Logger) ([]core.Sender, error) {
		return build(cfg, bus, notifier, logger)
	}
}

func build(cfg *core.Config, bus *core.Bus, notifier Notifier, logger zerolog.Logger) ([]core.Sender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("notify: nil config")
	}
	logger = logger.With().Str("component", "notify").Logger()
	timeout := core.Seconds(cfg.Alerts.ChannelTimeout, defaultTimeout)

	var senders []core.Sender
	for _, ch := range channels(cfg, bus, notifier, timeout, logger) {
		if !ch.enabled || !cfg.ChannelSelected(ch.name) {
			continue
		}
		if ch.missing != "" {
			logger.Warn().Str("channel", ch.name).Str("missing", ch.missing).Msg("channel enabled but not configured, skipping")
			continue
		}
		senders = append(senders, ch.build())
	}

	if len(senders) == 0 {
		logger.Warn().Str("alert_method", cfg.Alerts.AlertMethod).Msg("no alert channels configured, alerts will only be logged")
	}
	return senders, nil
}

// ChannelStatus describes how Build would treat one channel.
type ChannelStatus struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Selected bool   `json:"selected"`
	Missing  string `json:"missing,omitempty"`
}

// Ready reports whether Build would construct a sender for the channel.
func (c ChannelStatus) Ready() bool {
	return c.Enabled && c.Selected && c.Missing == ""
}

// Diagnose reports the status of every known channel without building any
// sender. NATS is judged against busAvailable since the bus only exists
// once the engine has started.
func Diagnose(cfg *core.Config, busAvailable bool) []ChannelStatus {
	var out []ChannelStatus
	for _, ch := range channels(cfg, nil, nil, defaultTimeout, zerolog.Nop()) {
		missing := ch.missing
		if ch.name == "nats" {
			missing = ""
			if !busAvailable {
				missing = "connection"
			}
		}
		out = append(out, ChannelStatus{
			Name:     ch.name,
			Enabled:  ch.enabled,
			Selected: cfg.ChannelSelected(ch.name),
			Missing:  missing,
		})
	}
	return out
}

type channel struct {
	name    string
	enabled bool
	missing string
	build   func() core.Sender
}

func channels(cfg *core.Config, bus *core.Bus, notifier Notifier, timeout time.Duration, logger zerolog.Logger) []channel {
	return []channel{
		{"email", cfg.Email.Enabled, firstMissing(
			req("smtp_server", cfg.Email.SMTPServer != ""),
			req("smtp_port", cfg.Email.SMTPPort > 0),
			req("to", len(cfg.Email.To) > 0),
			req("from or username", cfg.Email.From != "" || cfg.Email.Username != ""),
		), func() core.Sender { return NewEmailSender(cfg.Email, timeout, logger) }},

		{"webhook", cfg.Webhook.Enabled, firstMissing(
			req("urls", len(cfg.Webhook.URLs) > 0),
		), func() core.Sender { return NewWebhookSender(cfg.Webhook, timeout, logger) }},

		{"toast", cfg.Toast.Enabled, "",
			func() core.Sender { return NewToastSender(cfg.Toast, notifier, logger) }},

		{"telegram", cfg.Telegram.Enabled, firstMissing(
			req("bot_token", cfg.Telegram.BotToken != ""),
			req("chat_ids", len(cfg.Telegram.ChatIDs) > 0),
		), func() core.Sender { return NewTelegramSender(cfg.Telegram, timeout, logger) }},

		{"discord", cfg.Discord.Enabled, firstMissing(
			req("webhook_urls", len(cfg.Discord.WebhookURLs) > 0),
		), func() core.Sender { return NewDiscordSender(cfg.Discord, timeout, logger) }},

		{"slack", cfg.Slack.Enabled, firstMissing(
			req("webhook_urls", len(cfg.Slack.WebhookURLs) > 0),
		), func() core.Sender { return NewSlackSender(cfg.Slack, timeout, logger) }},

		{"whatsapp", cfg.WhatsApp.Enabled, firstMissing(
			req("account_sid", cfg.WhatsApp.AccountSID != ""),
			req("auth_token", cfg.WhatsApp.AuthToken != ""),
			req("from_number", cfg.WhatsApp.FromNumber != ""),
			req("to_numbers", len(cfg.WhatsApp.ToNumbers) > 0),
		), func() core.Sender { return NewWhatsAppSender(cfg.WhatsApp, timeout, logger) }},

		{"teams", cfg.Teams.Enabled, firstMissing(
			req("webhook_urls", len(cfg.Teams.WebhookURLs) > 0),
		), func() core.Sender { return NewTeamsSender(cfg.Teams, timeout, logger) }},

		{"pushover", cfg.Pushover.Enabled, firstMissing(
			req("app_token", cfg.Pushover.AppToken != ""),
			req("user_keys", len(cfg.Pushover.UserKeys) > 0),
		), func() core.Sender { return NewPushoverSender(cfg.Pushover, timeout, logger) }},

		{"nats", cfg.NATS.Enabled, firstMissing(
			req("connection", bus != nil && bus.Conn() != nil),
		), func() core.Sender { return NewNATSSender(bus.Conn(), cfg.NATS.SubjectPrefix, logger) }},
	}
}

type requirement struct {
	name string
	ok   bool
}

func req(name string, ok bool) requirement { return requirement{name, ok} }

func firstMissing(reqs ...requirement) string {
	for _, r := range reqs {
		if !r.ok {
			return r.name
		}
	}
	return ""
}
