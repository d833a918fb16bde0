package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/chronicle/internal/models"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBuildRecapPrompt(t *testing.T) {
	s := models.Session{ID: "s1", ProjectPath: "/src/chronicle", GitBranch: "main"}
	rec := models.SessionStatusRecord{Status: models.SessionStatusAwaiting, IdleTimeMs: 90500, ToolsInProgress: 1, ErrorCount: 2}
	events := []models.Event{
		{ID: "e1", SessionID: "s1", Type: models.EventTypePreToolUse, ToolName: "Bash", Timestamp: at},
		{ID: "e2", SessionID: "s1", Type: models.EventTypeNotification, Timestamp: at.Add(time.Second),
			Metadata: models.Metadata{"message": "Allow rm -rf build?"}},
	}

	t.Run("session facts", func(t *testing.T) {
		system, user := buildRecapPrompt(s, rec, events)

		assert.Contains(t, system, `"headline"`)
		assert.Contains(t, system, `"next_step"`)
		assert.Contains(t, system, "awaiting")

		assert.Contains(t, user, "Session: chronicle")
		assert.Contains(t, user, "Branch: main")
		assert.Contains(t, user, "Status: awaiting")
		assert.Contains(t, user, "Idle for: 1m31s")
		assert.Contains(t, user, "Tools in progress: 1")
		assert.Contains(t, user, "Errors: 2")
		assert.Contains(t, user, "12:00:00 pre_tool_use: Bash")
		assert.Contains(t, user, "Allow rm -rf build?")
		assert.NotContains(t, user, "sub-agent")
	})

	t.Run("long history is trimmed", func(t *testing.T) {
		var many []models.Event
		for i := 0; i < maxRecapEvents+5; i++ {
			many = append(many, models.Event{ID: fmt.Sprint(i), SessionID: "s1", Type: models.EventTypeStop, Timestamp: at})
		}
		_, user := buildRecapPrompt(s, models.SessionStatusRecord{Status: models.SessionStatusCompleted}, many)
		assert.Contains(t, user, "(5 earlier events omitted)")
		assert.Equal(t, maxRecapEvents, strings.Count(user, "stop: "))
	})
}

func TestStripFencing(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFencing("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFencing("  {\"a\":1}  "))
}

func TestRecapSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		recap := "```json\n{\"headline\":\"Waiting on approval\",\"summary\":\"Ran Bash.\",\"next_step\":\"Approve the command\"}\n```"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "test-model",
			"stop_reason":   "end_turn",
			"content":       []map[string]any{{"type": "text", "text": recap}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
			"stop_sequence": nil,
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	assert.Equal(t, "test-model", c.Model())
	recap, err := c.RecapSession(t.Context(), models.Session{ID: "s1"}, models.SessionStatusRecord{Status: models.SessionStatusAwaiting}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Waiting on approval", recap.Headline)
	assert.Equal(t, "Approve the command", recap.NextStep)
}

func TestRecapSession_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewClient("bad", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := c.RecapSession(t.Context(), models.Session{ID: "s1"}, models.SessionStatusRecord{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic API call")
}
