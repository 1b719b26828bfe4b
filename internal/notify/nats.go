package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const flushTimeout = 5 * time.Second

// NATSSender publishes each notification as JSON on
// <prefix>.<severity>, e.g. vigil.alerts.critical.
type NATSSender struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewNATSSender(nc *nats.Conn, prefix string, logger zerolog.Logger) *NATSSender {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "vigil.alerts"
	}
	return &NATSSender{nc: nc, prefix: prefix, logger: logger.With().Str("channel", "nats").Logger()}
}

func (s *NATSSender) Name() string { return "nats" }

// Subject returns the subject a notification of the given severity uses.
func (s *NATSSender) Subject(sev core.Severity) string {
	return s.prefix + "." + strings.ToLower(sev.String())
}

func (s *NATSSender) Send(ctx context.Context, n *core.Notification) bool {
	if s.nc == nil || s.nc.IsClosed() {
		s.logger.Warn().Msg("nats connection unavailable")
		return false
	}
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode notification")
		return false
	}
	subject := s.Subject(n.Severity)
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("publish failed")
		return false
	}
	// Flush so a dead server surfaces as a failure inside the channel timeout.
	if _, ok := ctx.Deadline(); ok {
		err = s.nc.FlushWithContext(ctx)
	} else {
		err = s.nc.FlushTimeout(flushTimeout)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("flush failed")
		return false
	}
	return true
}
