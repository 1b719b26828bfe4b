package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of a detection event or alert.
// The numeric value doubles as the severity rank used for filtering.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Rank returns the filtering rank (LOW=1 .. CRITICAL=4). Out-of-range values
// rank as MEDIUM, matching how unknown severities are treated on input.
func (s Severity) Rank() int {
	if s < SeverityLow || s > SeverityCritical {
		return int(SeverityMedium)
	}
	return int(s)
}

// AtLeast reports whether s ranks at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

// ParseSeverity parses a severity name case-insensitively. Unknown names
// return SeverityMedium and false.
func ParseSeverity(str string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(str)) {
	case "LOW":
		return SeverityLow, true
	case "MEDIUM":
		return SeverityMedium, true
	case "HIGH":
		return SeverityHigh, true
	case "CRITICAL":
		return SeverityCritical, true
	default:
		return SeverityMedium, false
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s, _ = ParseSeverity(str)
	return nil
}

// EventKind identifies which detection produced an event. Message templates
// and per-channel detail blocks are keyed on it.
type EventKind string

const (
	KindSuspiciousProcess  EventKind = "suspicious_process"
	KindSuspiciousFile     EventKind = "suspicious_file"
	KindEventLogMatch      EventKind = "event_log_match"
	KindSystemCritical     EventKind = "system_critical_event"
	KindSpecificEvent      EventKind = "specific_event_match"
	KindResourceThreshold  EventKind = "resource_threshold"
	KindGenericSystemAlert EventKind = "generic_system_alert"
)

// Kinds returns every known event kind.
func Kinds() []EventKind {
	return []EventKind{
		KindSuspiciousProcess, KindSuspiciousFile, KindEventLogMatch, KindSystemCritical,
		KindSpecificEvent, KindResourceThreshold, KindGenericSystemAlert,
	}
}

// DetectionEvent is the unit a detection source hands to the dispatcher.
// Sources build it with NewDetectionEvent and With, then give it up; the
// dispatcher never mutates it.
type DetectionEvent struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Source     string                 `json:"source"`
	Kind       EventKind              `json:"kind"`
	Severity   Severity               `json:"severity"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NewDetectionEvent creates a DetectionEvent with a generated ID and the
// current time as detection timestamp.
func NewDetectionEvent(source string, kind EventKind, severity Severity, title, message string) *DetectionEvent {
	return &DetectionEvent{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Source:     source,
		Kind:       kind,
		Severity:   severity,
		Title:      title,
		Message:    message,
		Attributes: make(map[string]interface{}),
	}
}

// With sets an attribute and returns the event for chaining.
func (e *DetectionEvent) With(key string, value interface{}) *DetectionEvent {
	if e.Attributes == nil {
		e.Attributes = make(map[string]interface{})
	}
	e.Attributes[key] = value
	return e
}

// Attr returns an attribute rendered as a string, or "" when absent.
func (e *DetectionEvent) Attr(key string) string {
	v, ok := e.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	return attrString(v)
}

// Marshal serializes the event to JSON.
func (e *DetectionEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalDetectionEvent deserializes a DetectionEvent from JSON.
func UnmarshalDetectionEvent(data []byte) (*DetectionEvent, error) {
	var event DetectionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
