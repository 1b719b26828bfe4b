package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrLogDir is returned when the log directory cannot be created. It is a
// fatal startup error.
var ErrLogDir = errors.New("cannot create log directory")

const (
	AlertLogFile    = "alerts.log"
	HistoryFile     = "alerts_history.jsonl"
	ActivityLogFile = "activity.log"
)

// AlertLog appends one plain-text line per dispatched alert and, when
// enabled, one JSON record per alert to a history file. Writes are
// serialized so concurrent dispatches never interleave partial lines.
type AlertLog struct {
	dir         string
	saveHistory bool
	logger      zerolog.Logger

	mu           sync.Mutex
	file         *os.File
	history      *os.File
	linesWritten int64
}

// historyRecord is the JSON-lines envelope written to the history file.
type historyRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Severity  Severity               `json:"severity"`
	Kind      EventKind              `json:"kind"`
	Outcome   string                 `json:"outcome"`
	Channels  map[string]bool        `json:"channels,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// OpenAlertLog creates dir if needed and opens the alert log in append mode.
func OpenAlertLog(dir string, saveHistory bool, logger zerolog.Logger) (*AlertLog, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrLogDir, dir, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, AlertLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening alert log: %w", err)
	}

	l := &AlertLog{
		dir:         dir,
		saveHistory: saveHistory,
		logger:      logger.With().Str("component", "alert_log").Logger(),
		file:        f,
	}

	if saveHistory {
		h, err := os.OpenFile(filepath.Join(dir, HistoryFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening alert history: %w", err)
		}
		l.history = h
	}
	return l, nil
}

// Append writes one alert line. outcome summarizes delivery, e.g.
// "delivered" or "failed: email".
func (l *AlertLog) Append(n *Notification, outcome string, channels map[string]bool) {
	line := fmt.Sprintf("%s - %s - %s | %s | %s\n",
		n.DeliveredAt.Format(time.RFC3339),
		n.Severity.String(),
		n.Title,
		oneLine(n.Message),
		outcome,
	)

	var rec []byte
	if l.saveHistory {
		var err error
		rec, err = json.Marshal(historyRecord{
			Timestamp: n.DeliveredAt,
			Title:     n.Title,
			Message:   n.Message,
			Severity:  n.Severity,
			Kind:      n.Kind,
			Outcome:   outcome,
			Channels:  channels,
			Data:      n.Attributes,
		})
		if err != nil {
			l.logger.Error().Err(err).Msg("failed to marshal history record")
			rec = nil
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	if _, err := l.file.WriteString(line); err != nil {
		l.logger.Error().Err(err).Msg("failed to write alert log")
		return
	}
	l.linesWritten++

	if l.history != nil && rec != nil {
		if _, err := l.history.Write(append(rec, '\n')); err != nil {
			l.logger.Error().Err(err).Msg("failed to write alert history")
		}
	}
}

// Path returns the alert log location.
func (l *AlertLog) Path() string {
	return filepath.Join(l.dir, AlertLogFile)
}

// Dir returns the log directory.
func (l *AlertLog) Dir() string {
	return l.dir
}

// LinesWritten returns the number of alert lines written since open.
func (l *AlertLog) LinesWritten() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.linesWritten
}

// Close flushes and closes the underlying files.
func (l *AlertLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.history != nil {
		firstErr = l.history.Close()
		l.history = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.file = nil
	}
	return firstErr
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
