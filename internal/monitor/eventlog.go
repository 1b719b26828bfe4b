package monitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const defaultMaxRecords = 1000

// EventRecord is one entry read from a system event log.
type EventRecord struct {
	EventID       int       `json:"event_id"`
	SourceName    string    `json:"source_name"`
	Computer      string    `json:"computer"`
	TimeGenerated time.Time `json:"time_generated"`
	StringInserts []string  `json:"string_inserts,omitempty"`
}

// EventReader returns records appended to a log since the previous call,
// at most max of them. Unread records are returned by later calls.
type EventReader interface {
	Read(ctx context.Context, source string, max int) ([]EventRecord, error)
}

// JSONLinesReader reads exported event logs, one JSON record per line, from
// <dir>/<source>.jsonl. It keeps a byte cursor per source and starts over
// when a file shrinks.
type JSONLinesReader struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	offsets map[string]int64
}

func NewJSONLinesReader(dir string, logger zerolog.Logger) *JSONLinesReader {
	return &JSONLinesReader{dir: dir, logger: logger, offsets: make(map[string]int64)}
}

// Path returns the export file for a source.
func (r *JSONLinesReader) Path(source string) string {
	return filepath.Join(r.dir, source+".jsonl")
}

func (r *JSONLinesReader) Read(ctx context.Context, source string, max int) ([]EventRecord, error) {
	if max <= 0 {
		max = defaultMaxRecords
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.Path(source))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := r.offsets[source]
	if info.Size() < offset {
		r.logger.Info().Str("source", source).Msg("event export truncated, rereading from start")
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	var records []EventRecord
	for len(records) < max {
		if ctx.Err() != nil {
			break
		}
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] != '\n' {
			// Partial trailing line; the exporter is still writing it.
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return records, err
		}
		offset += int64(len(line))
		var rec EventRecord
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			if len(bytes.TrimSpace(line)) > 0 {
				r.logger.Warn().Err(jerr).Str("source", source).Msg("skipping malformed event record")
			}
			continue
		}
		records = append(records, rec)
	}
	r.offsets[source] = offset
	return records, ctx.Err()
}

// criticalSystemEvents are restart and shutdown events reported regardless
// of the monitored ID list.
var criticalSystemEvents = map[int]string{
	1074: "Shutdown or restart initiated by a user or application",
	6005: "Event Log service started (system boot)",
	6006: "Event Log service stopped (system shutdown)",
	6008: "Unexpected system shutdown",
	1076: "Shutdown initiated but cancelled",
	6013: "System uptime",
	12:   "System start",
	13:   "System shutdown",
	41:   "System rebooted without a clean shutdown",
	109:  "Kernel power: unexpected shutdown",
}

// suspiciousIndicators are reported when no specific IDs are configured and
// search_all_if_not_found is on.
var suspiciousIndicators = core.IntList{
	1000, 1001, 1002, 1004,
	7000, 7001, 7009, 7011, 7023, 7024, 7026, 7031, 7032, 7034,
	4625, 4648, 4720, 4732, 4733, 4756,
	6005, 6006, 6008, 6009, 6013,
}

func isCrashEvent(id int) bool { return id == 6008 || id == 41 || id == 109 }

func categorize(id int) string {
	switch id {
	case 1074, 6006, 13, 1076:
		return "SHUTDOWN/RESTART"
	case 6005, 12:
		return "SYSTEM BOOT"
	case 6008, 41, 109:
		return "CRITICAL FAILURE"
	case 6013:
		return "SYSTEM INFORMATION"
	default:
		return "CRITICAL SYSTEM"
	}
}

// EventLogSource polls system event logs and classifies each new record.
type EventLogSource struct {
	pollingSource
	reader     EventReader
	sources    []string
	monitored  core.IntList
	specific   core.IntList
	searchAll  bool
	maxRecords int

	now       func() time.Time
	lastCheck time.Time
}

func NewEventLogSource(cfg *core.Config, reader EventReader, logger zerolog.Logger) *EventLogSource {
	em := cfg.EventMonitoring
	l := logger.With().Str("component", "eventlog_monitor").Logger()
	if reader == nil {
		reader = NewJSONLinesReader(em.ExportDir, l)
	}
	s := &EventLogSource{
		reader:     reader,
		sources:    em.Sources,
		monitored:  em.EventIDs,
		specific:   em.SpecificEventIDs,
		searchAll:  em.SearchAllIfNotFound,
		maxRecords: em.MaxRecords,
	}
	if s.maxRecords <= 0 {
		s.maxRecords = defaultMaxRecords
	}
	s.now = time.Now
	s.lastCheck = s.now().Add(-core.Seconds(em.Lookback, 5*time.Minute))
	s.pollingSource = pollingSource{
		name:     "eventlog_monitor",
		interval: core.Seconds(em.Interval, 30*time.Second),
		backoff:  core.Seconds(cfg.General.ErrorBackoff, time.Minute),
		check:    s.Check,
		logger:   l,
	}
	return s
}

// Check reads every configured log once. A failing log does not stop the
// others; the first error is returned after all were read. Records generated
// before the last completed cycle are skipped, so the first cycle only reports
// the lookback window before startup.
func (s *EventLogSource) Check(ctx context.Context) ([]*core.DetectionEvent, error) {
	var events []*core.DetectionEvent
	var firstErr error
	start := s.now()
	deferred := false
	for _, src := range s.sources {
		records, err := s.reader.Read(ctx, src, s.maxRecords)
		if err != nil {
			s.logger.Error().Err(err).Str("log", src).Msg("reading event log failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("reading %s: %w", src, err)
			}
		}
		if len(records) >= s.maxRecords {
			deferred = true
			s.logger.Warn().Str("log", src).Int("limit", s.maxRecords).Msg("record limit reached, remaining records deferred")
		}
		stale := 0
		for _, rec := range records {
			if !rec.TimeGenerated.IsZero() && rec.TimeGenerated.Before(s.lastCheck) {
				stale++
				continue
			}
			if ev := s.Classify(src, rec); ev != nil {
				events = append(events, ev)
			}
		}
		if len(records) > 0 {
			s.logger.Debug().Str("log", src).Int("records", len(records)).Int("stale", stale).Msg("processed event records")
		}
	}
	// deferred records still belong to this window
	if !deferred {
		s.lastCheck = start
	}
	return events, firstErr
}

// Classify maps one record to an event, or nil when it is not of interest.
// Specific IDs win over the critical system table, which wins over the
// monitored list.
func (s *EventLogSource) Classify(logName string, rec EventRecord) *core.DetectionEvent {
	switch {
	case s.specific.Contains(rec.EventID):
		return s.base(logName, rec, core.KindSpecificEvent, core.SeverityHigh,
			"Specific event detected",
			fmt.Sprintf("Specific event found: ID %d in %s - %s", rec.EventID, logName, rec.SourceName))

	case criticalSystemEvents[rec.EventID] != "":
		desc := criticalSystemEvents[rec.EventID]
		sev := core.SeverityHigh
		if isCrashEvent(rec.EventID) {
			sev = core.SeverityCritical
		}
		ev := s.base(logName, rec, core.KindSystemCritical, sev,
			"Critical system event: restart/shutdown",
			fmt.Sprintf("CRITICAL SYSTEM EVENT: %s (ID: %d) on %s", desc, rec.EventID, rec.Computer)).
			With("description", desc).
			With("category", categorize(rec.EventID))
		for k, v := range shutdownDetails(rec) {
			ev.With(k, v)
		}
		return ev

	case s.monitored.Contains(rec.EventID):
		sev := core.SeverityMedium
		if rec.EventID == 4625 || rec.EventID == 7034 {
			sev = core.SeverityHigh
		}
		return s.base(logName, rec, core.KindEventLogMatch, sev,
			"Suspicious event detected",
			fmt.Sprintf("Suspicious event detected: ID %d in %s - %s", rec.EventID, logName, rec.SourceName))

	case s.searchAll && len(s.specific) == 0 && suspiciousIndicators.Contains(rec.EventID):
		return s.base(logName, rec, core.KindGenericSystemAlert, core.SeverityMedium,
			"Potentially suspicious event",
			fmt.Sprintf("Potentially suspicious event: ID %d in %s - %s", rec.EventID, logName, rec.SourceName))
	}
	return nil
}

func (s *EventLogSource) base(logName string, rec EventRecord, kind core.EventKind, sev core.Severity, title, msg string) *core.DetectionEvent {
	ev := core.NewDetectionEvent(s.name, kind, sev, title, msg).
		With("source", logName).
		With("event_id", rec.EventID).
		With("source_name", rec.SourceName).
		With("computer", rec.Computer)
	if !rec.TimeGenerated.IsZero() {
		ev.With("time", rec.TimeGenerated.Format("2006-01-02 15:04:05"))
	}
	return ev
}

// shutdownDetails extracts who and why for 1074 and the crash kind for
// unclean restarts.
func shutdownDetails(rec EventRecord) map[string]string {
	switch {
	case rec.EventID == 1074 && len(rec.StringInserts) >= 6:
		in := rec.StringInserts
		return map[string]string{
			"initiated_by_process": in[0],
			"initiated_by_user":    in[1],
			"shutdown_type":        in[4],
			"shutdown_reason":      in[5],
		}
	case rec.EventID == 41:
		return map[string]string{"crash_type": "UNEXPECTED_SHUTDOWN", "crash_reason": "System restarted without a clean shutdown (Kernel-Power)"}
	case rec.EventID == 6008:
		return map[string]string{"crash_type": "UNEXPECTED_SHUTDOWN", "crash_reason": "Unexpected shutdown detected at boot"}
	case rec.EventID == 109:
		return map[string]string{"crash_type": "UNEXPECTED_SHUTDOWN", "crash_reason": "Kernel detected the system restarted without a clean shutdown"}
	}
	return nil
}
