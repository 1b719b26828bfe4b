package core

import (
	"fmt"
	"regexp"
	"strings"
)

// messageTemplates maps each event kind to its human-readable body. Fields in
// braces are filled from the event attributes; "message" refers to the
// event's own message.
var messageTemplates = map[EventKind]string{
	KindSuspiciousProcess:  "Suspicious process: {process_name} (PID: {process_id}) - {reason}",
	KindSuspiciousFile:     "Suspicious file {action}: {file_path}",
	KindEventLogMatch:      "Critical event detected in {source}: ID {event_id} - {source_name}",
	KindSystemCritical:     "CRITICAL SYSTEM EVENT: {description} on {computer}",
	KindSpecificEvent:      "SPECIFIC EVENT DETECTED: ID {event_id} - {source_name}",
	KindResourceThreshold:  "{metric} at {value}% (threshold {threshold}%)",
	KindGenericSystemAlert: "System alert: {message}",
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// RenderMessage renders the template for the event's kind. An unknown kind,
// or any placeholder without a matching attribute, yields the literal
// message instead.
func RenderMessage(kind EventKind, message string, attrs map[string]interface{}) string {
	tmpl, ok := messageTemplates[kind]
	if !ok {
		return message
	}

	missing := false
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "message" {
			return message
		}
		v, ok := attrs[name]
		if !ok || v == nil {
			missing = true
			return m
		}
		return attrString(v)
	})
	if missing {
		return message
	}
	return out
}

// Render is a convenience wrapper for RenderMessage on an event.
func (e *DetectionEvent) Render() string {
	return RenderMessage(e.Kind, e.Message, e.Attributes)
}

func attrString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, "; ")
	default:
		return fmt.Sprint(t)
	}
}
