package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const telegramTextLimit = 4096

// TelegramSender sends messages through the Telegram Bot API.
type TelegramSender struct {
	token     string
	chatIDs   []string
	parseMode string
	baseURL   string
	client    *http.Client
	logger    zerolog.Logger
}

func NewTelegramSender(cfg core.TelegramConfig, timeout time.Duration, logger zerolog.Logger) *TelegramSender {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	mode := cfg.ParseMode
	if mode == "" {
		mode = "HTML"
	}
	return &TelegramSender{
		token:     cfg.BotToken,
		chatIDs:   cfg.ChatIDs,
		parseMode: mode,
		baseURL:   base,
		client:    newHTTPClient(timeout),
		logger:    logger.With().Str("channel", "telegram").Logger(),
	}
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, n *core.Notification) bool {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	text := telegramText(n)
	return eachDestination(ctx, s.logger, s.chatIDs, plain, func(ctx context.Context, chatID string) error {
		body, err := json.Marshal(map[string]string{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": s.parseMode,
		})
		if err != nil {
			return err
		}
		// The token is part of the URL; keep it out of error strings.
		if err := postJSON(ctx, s.client, endpoint, body); err != nil {
			return fmt.Errorf("sendMessage: %s", strings.ReplaceAll(err.Error(), s.token, "<token>"))
		}
		return nil
	})
}

// telegramTitleLimit caps the escaped title so the body keeps most of the
// message budget.
const telegramTitleLimit = 256

// telegramText renders an HTML message. Only the escaped title and body are
// cut, so the markup around them always stays balanced within the API limit.
func telegramText(n *core.Notification) string {
	st := styleFor(n.Severity)
	header := fmt.Sprintf("%s <b>%s</b>\n\n", st.emoji, truncateHTML(html.EscapeString(n.Title), telegramTitleLimit))
	footer := fmt.Sprintf("\n\n<b>Severity:</b> %s\n<b>Host:</b> %s\n<b>Time:</b> %s",
		html.EscapeString(n.Severity.String()),
		truncateHTML(html.EscapeString(orNA(n.Hostname())), 128),
		n.DeliveredAt.Format(time.RFC3339))
	budget := telegramTextLimit - utf8.RuneCountInString(header) - utf8.RuneCountInString(footer)
	return header + truncateHTML(html.EscapeString(n.Message), budget) + footer
}

// truncateHTML truncates s and drops a trailing partial tag or entity so the
// result still parses.
func truncateHTML(s string, max int) string {
	out := truncate(s, max)
	if out == s {
		return out
	}
	if max <= 3 {
		return ""
	}
	body := strings.TrimSuffix(out, "...")
	if i := strings.LastIndexByte(body, '<'); i >= 0 && !strings.Contains(body[i:], ">") {
		body = body[:i]
	}
	if i := strings.LastIndexByte(body, '&'); i >= 0 && !strings.Contains(body[i:], ";") {
		body = body[:i]
	}
	return body + "..."
}
