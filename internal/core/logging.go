package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Console output follows
// logging.format; when activity is non-nil every record is also written to
// it as JSON.
func NewLogger(cfg LoggingConfig, out io.Writer, activity io.Writer) zerolog.Logger {
	var console io.Writer = out
	if cfg.Format != "json" {
		console = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	w := console
	if activity != nil {
		w = zerolog.MultiLevelWriter(console, activity)
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger.Level(parseLevel(cfg.Level))
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug", "DEBUG", "Debug":
		return zerolog.DebugLevel
	case "warn", "WARN", "Warn", "warning", "WARNING":
		return zerolog.WarnLevel
	case "error", "ERROR", "Error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// OpenActivityLog opens logs/activity.log in append mode, creating the
// directory if needed.
func OpenActivityLog(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrLogDir, dir, err)
	}
	return os.OpenFile(filepath.Join(dir, ActivityLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
