package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const whatsappBodyLimit = 1600

// WhatsAppSender delivers messages through the Twilio Messages API.
type WhatsAppSender struct {
	cfg     core.WhatsAppConfig
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewWhatsAppSender(cfg core.WhatsAppConfig, timeout time.Duration, logger zerolog.Logger) *WhatsAppSender {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &WhatsAppSender{
		cfg:     cfg,
		baseURL: base,
		client:  newHTTPClient(timeout),
		logger:  logger.With().Str("channel", "whatsapp").Logger(),
	}
}

func (s *WhatsAppSender) Name() string { return "whatsapp" }

func (s *WhatsAppSender) Send(ctx context.Context, n *core.Notification) bool {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.cfg.AccountSID))
	text := truncate(fmt.Sprintf("%s *%s*\n\n%s\n\nSeverity: %s\nHost: %s",
		styleFor(n.Severity).emoji, n.Title, n.Message, n.Severity, orNA(n.Hostname())), whatsappBodyLimit)

	return eachDestination(ctx, s.logger, s.cfg.ToNumbers, plain, func(ctx context.Context, to string) error {
		form := url.Values{}
		form.Set("From", whatsappAddr(s.cfg.FromNumber))
		form.Set("To", whatsappAddr(to))
		form.Set("Body", text)
		return postForm(ctx, s.client, endpoint, form, func(req *http.Request) {
			req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
		})
	})
}

func whatsappAddr(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
