package notify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const (
	pushoverTitleLimit   = 250
	pushoverMessageLimit = 1024
)

// PushoverSender delivers push notifications through Pushover.
type PushoverSender struct {
	token    string
	userKeys []string
	apiURL   string
	client   *http.Client
	logger   zerolog.Logger
}

func NewPushoverSender(cfg core.PushoverConfig, timeout time.Duration, logger zerolog.Logger) *PushoverSender {
	api := cfg.APIURL
	if api == "" {
		api = "https://api.pushover.net/1/messages.json"
	}
	return &PushoverSender{
		token:    cfg.AppToken,
		userKeys: cfg.UserKeys,
		apiURL:   api,
		client:   newHTTPClient(timeout),
		logger:   logger.With().Str("channel", "pushover").Logger(),
	}
}

func (s *PushoverSender) Name() string { return "pushover" }

func (s *PushoverSender) Send(ctx context.Context, n *core.Notification) bool {
	title := truncate(n.Title, pushoverTitleLimit)
	message := truncate(n.Message, pushoverMessageLimit)
	priority := strconv.Itoa(pushoverPriority(n.Severity))

	return eachDestination(ctx, s.logger, s.userKeys, maskKey, func(ctx context.Context, user string) error {
		form := url.Values{}
		form.Set("token", s.token)
		form.Set("user", user)
		form.Set("title", title)
		form.Set("message", message)
		form.Set("priority", priority)
		form.Set("timestamp", strconv.FormatInt(n.DeliveredAt.Unix(), 10))
		return postForm(ctx, s.client, s.apiURL, form, nil)
	})
}

func pushoverPriority(sev core.Severity) int {
	switch sev {
	case core.SeverityCritical:
		return 1
	case core.SeverityHigh:
		return 0
	default:
		return -1
	}
}

func maskKey(k string) string {
	if len(k) <= 4 {
		return "****"
	}
	return k[:4] + "****"
}
