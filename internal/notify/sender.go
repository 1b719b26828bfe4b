package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// eachDestination calls fn for every destination and ANDs the results.
// Every destination is attempted even after a failure. No destinations
// means nothing was delivered.
func eachDestination(ctx context.Context, logger zerolog.Logger, dests []string, label func(string) string, fn func(context.Context, string) error) bool {
	if len(dests) == 0 {
		return false
	}
	ok := true
	for _, dest := range dests {
		if err := fn(ctx, dest); err != nil {
			logger.Warn().Err(err).Str("destination", label(dest)).Msg("delivery failed")
			ok = false
			continue
		}
		logger.Debug().Str("destination", label(dest)).Msg("delivered")
	}
	return ok
}

func plain(s string) string { return s }

// severityStyle holds the presentation of a severity on chat platforms.
type severityStyle struct {
	hex   string // email border and text color
	slack string // Slack attachment color keyword
	embed int    // Discord embed color
	card  string // Adaptive Card text color
	emoji string
}

func styleFor(sev core.Severity) severityStyle {
	switch sev {
	case core.SeverityCritical:
		return severityStyle{hex: "#dc3545", slack: "danger", embed: 0xDC3545, card: "Attention", emoji: "🚨"}
	case core.SeverityHigh:
		return severityStyle{hex: "#fd7e14", slack: "danger", embed: 0xFD7E14, card: "Attention", emoji: "🔴"}
	case core.SeverityMedium:
		return severityStyle{hex: "#ffc107", slack: "warning", embed: 0xFFC107, card: "Warning", emoji: "🟠"}
	case core.SeverityLow:
		return severityStyle{hex: "#28a745", slack: "good", embed: 0x28A745, card: "Good", emoji: "🔵"}
	default:
		return severityStyle{hex: "#6c757d", slack: "warning", embed: 0x6C757D, card: "Default", emoji: "⚪"}
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
