package models

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFlags(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
		want bool
	}{
		{"nil map", nil, false},
		{"missing key", Metadata{"other": true}, false},
		{"bool true", Metadata{MetaRequiresResponse: true}, true},
		{"bool false", Metadata{MetaRequiresResponse: false}, false},
		{"string true", Metadata{MetaRequiresResponse: "TRUE"}, true},
		{"string one", Metadata{MetaRequiresResponse: "1"}, true},
		{"string junk", Metadata{MetaRequiresResponse: "yes please"}, false},
		{"json number", Metadata{MetaRequiresResponse: float64(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.meta.RequiresResponse())
		})
	}

	assert.True(t, Metadata{MetaIsSubAgent: true}.IsSubAgentFlag())
	assert.False(t, Metadata{}.IsSubAgentFlag())
}

func TestMetadataClone(t *testing.T) {
	orig := Metadata{"a": 1}
	cp := orig.Clone()
	cp["a"] = 2
	assert.Equal(t, 1, orig["a"])
	assert.Nil(t, Metadata(nil).Clone())
}

func TestEventValidate(t *testing.T) {
	e := Event{ID: "e1", SessionID: "s1"}
	assert.NoError(t, e.Validate())

	err := (&Event{SessionID: "s1"}).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedInput))
	assert.Contains(t, err.Error(), "missing id")

	err = (&Event{ID: "e2"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e2")
	assert.Contains(t, err.Error(), "sessionId")
}

func TestEventSummary(t *testing.T) {
	long := strings.Repeat("p", 200)
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"tool use", Event{Type: EventTypePreToolUse, ToolName: "Edit"}, "Edit"},
		{"tool use without name", Event{Type: EventTypePostToolUse}, "post tool use"},
		{"notification", Event{Type: EventTypeNotification, Metadata: Metadata{"message": "Needs approval"}}, "Needs approval"},
		{"prompt truncated", Event{Type: EventTypeUserPromptSubmit, Metadata: Metadata{"prompt": long}}, long[:summaryMaxLen] + "..."},
		{"error", Event{Type: EventTypeError, Metadata: Metadata{"error": "boom"}}, "boom"},
		{"fallback", Event{Type: EventTypeStop}, "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Summary())
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii", "abcdef", 5, "abcde..."},
		{"cut inside two-byte rune", "p" + strings.Repeat("é", 100), summaryMaxLen, "p" + strings.Repeat("é", 59) + "..."},
		{"cut inside four-byte rune", "ab🚀cd", 4, "ab..."},
		{"cut after whole rune", "日本語", 6, "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range EventTypes {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, EventType("bogus").Valid())
}

func TestSessionTitle(t *testing.T) {
	assert.Equal(t, "My run", (&Session{ID: "s", Metadata: Metadata{"title": "My run"}}).Title())
	assert.Equal(t, "chronicle", (&Session{ID: "s", ProjectPath: "/home/dev/chronicle"}).Title())
	assert.Equal(t, "claude-1", (&Session{ID: "s", ClaudeSessionID: "claude-1"}).Title())
	assert.Equal(t, "s", (&Session{ID: "s"}).Title())
}

func TestSessionEnded(t *testing.T) {
	end := time.Now()
	assert.True(t, (&Session{EndTime: &end}).Ended())
	assert.False(t, (&Session{}).Ended())
	assert.False(t, (&Session{EndTime: &time.Time{}}).Ended())
}

func TestBatchSessionIDs(t *testing.T) {
	b := EventBatch{Events: []Event{
		{ID: "1", SessionID: "b"},
		{ID: "2", SessionID: "a"},
		{ID: "3", SessionID: "b"},
	}}
	assert.Equal(t, []string{"b", "a"}, b.SessionIDs())
}

func TestDerivationError(t *testing.T) {
	cause := errors.New("bad")
	err := &DerivationError{SessionID: "s1", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "s1")
}
