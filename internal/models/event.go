package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// EventType identifies the lifecycle hook that produced an event.
type EventType string

const (
	EventTypeSessionStart     EventType = "session_start"
	EventTypeUserPromptSubmit EventType = "user_prompt_submit"
	EventTypePreToolUse       EventType = "pre_tool_use"
	EventTypePostToolUse      EventType = "post_tool_use"
	EventTypeNotification     EventType = "notification"
	EventTypeStop             EventType = "stop"
	EventTypeSubagentStop     EventType = "subagent_stop"
	EventTypePreCompact       EventType = "pre_compact"
	EventTypeError            EventType = "error"
)

// EventTypes lists every recognized event type in lifecycle order.
var EventTypes = []EventType{
	EventTypeSessionStart,
	EventTypeUserPromptSubmit,
	EventTypePreToolUse,
	EventTypePostToolUse,
	EventTypeNotification,
	EventTypeStop,
	EventTypeSubagentStop,
	EventTypePreCompact,
	EventTypeError,
}

// Valid reports whether t is one of the recognized event types.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns a human readable form of the type ("pre_tool_use" -> "pre tool use").
func (t EventType) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// Event is one lifecycle occurrence reported by an agent session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ToolName  string    `json:"toolName,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// Validate checks the fields the engine depends on.
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return &MalformedInputError{Kind: "event", Field: "id"}
	case e.SessionID == "":
		return &MalformedInputError{Kind: "event", ID: e.ID, Field: "sessionId"}
	}
	return nil
}

// summaryMaxLen caps free-text summaries taken from prompt metadata.
const summaryMaxLen = 120

// Summary returns the short display text used for search and listings.
func (e *Event) Summary() string {
	switch e.Type {
	case EventTypePreToolUse, EventTypePostToolUse:
		if e.ToolName != "" {
			return e.ToolName
		}
	case EventTypeNotification:
		if msg := e.Metadata.String("message"); msg != "" {
			return truncate(msg, summaryMaxLen)
		}
	case EventTypeUserPromptSubmit:
		if prompt := e.Metadata.String("prompt"); prompt != "" {
			return truncate(prompt, summaryMaxLen)
		}
	case EventTypeError:
		if msg := e.Metadata.String("error"); msg != "" {
			return truncate(msg, summaryMaxLen)
		}
	}
	return e.Type.Label()
}

// truncate returns s cut to at most maxLen bytes on a rune boundary,
// with "..." appended when anything was dropped.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
