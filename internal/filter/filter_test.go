package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/chronicle/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixture() ([]models.Event, []models.Session, map[string]models.Session) {
	sessions := []models.Session{
		{ID: "S1", ProjectPath: "/home/dev/chronicle", GitBranch: "main", StartTime: base},
		{ID: "S2", ProjectPath: "/home/dev/dashboard", GitBranch: "feature/charts", StartTime: base.Add(time.Hour)},
	}
	events := []models.Event{
		{ID: "e1", SessionID: "S1", Type: models.EventTypeSessionStart, Timestamp: base},
		{ID: "e2", SessionID: "S2", Type: models.EventTypeSessionStart, Timestamp: base.Add(time.Hour)},
		{ID: "e3", SessionID: "S1", Type: models.EventTypePreToolUse, ToolName: "Read", Timestamp: base.Add(time.Minute)},
		{ID: "e4", SessionID: "S2", Type: models.EventTypePreToolUse, ToolName: "Bash", Timestamp: base.Add(61 * time.Minute)},
		{ID: "e5", SessionID: "S1", Type: models.EventTypeNotification, Timestamp: base.Add(2 * time.Minute),
			Metadata: models.Metadata{"message": "Permission needed for rm"}},
		{ID: "e6", SessionID: "S2", Type: models.EventTypeError, Timestamp: base.Add(62 * time.Minute)},
	}
	byID := map[string]models.Session{}
	for _, s := range sessions {
		byID[s.ID] = s
	}
	return events, sessions, byID
}

func eventIDs(events []models.Event) []string {
	out := []string{}
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func sessionIDs(sessions []models.Session) []string {
	out := []string{}
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func TestFilterEvents(t *testing.T) {
	events, _, byID := fixture()

	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"empty config matches all", Config{}, []string{"e1", "e2", "e3", "e4", "e5", "e6"}},
		{"single session", Config{SelectedSessionIDs: []string{"S1"}}, []string{"e1", "e3", "e5"}},
		{"sessions OR", Config{SelectedSessionIDs: []string{"S2", "S1"}}, []string{"e1", "e2", "e3", "e4", "e5", "e6"}},
		{"types OR", Config{EventTypes: []models.EventType{models.EventTypeError, models.EventTypeNotification}}, []string{"e5", "e6"}},
		{"session AND type", Config{SelectedSessionIDs: []string{"S2"}, EventTypes: []models.EventType{models.EventTypePreToolUse}}, []string{"e4"}},
		{"search tool name", Config{SearchTerm: "bash"}, []string{"e4"}},
		{"search summary", Config{SearchTerm: "PERMISSION"}, []string{"e5"}},
		{"search session project", Config{SearchTerm: "dashboard"}, []string{"e2", "e4", "e6"}},
		{"search session branch", Config{SearchTerm: "charts"}, []string{"e2", "e4", "e6"}},
		{"blank search ignored", Config{SearchTerm: "   "}, []string{"e1", "e2", "e3", "e4", "e5", "e6"}},
		{"date range inclusive", Config{DateRange: &DateRange{From: base.Add(time.Minute), To: base.Add(time.Hour)}}, []string{"e2", "e3", "e5"}},
		{"open upper bound", Config{DateRange: &DateRange{From: base.Add(61 * time.Minute)}}, []string{"e4", "e6"}},
		{"no match", Config{SelectedSessionIDs: []string{"S3"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventIDs(FilterEvents(events, tt.cfg, byID)))
		})
	}
}

func TestFilterEvents_SelectedSessionPreservesOrder(t *testing.T) {
	events, _, _ := fixture()
	got := FilterEvents(events, Config{SelectedSessionIDs: []string{"S1"}, EventTypes: []models.EventType{}, SearchTerm: ""}, nil)
	assert.Equal(t, []string{"e1", "e3", "e5"}, eventIDs(got))
}

func TestFilterEvents_WithoutSessionLookup(t *testing.T) {
	events, _, _ := fixture()
	assert.Empty(t, FilterEvents(events, Config{SearchTerm: "dashboard"}, nil))
}

func TestFilterEvents_DoesNotMutateInput(t *testing.T) {
	events, _, byID := fixture()
	before := eventIDs(events)
	FilterEvents(events, Config{SearchTerm: "read"}, byID)
	assert.Equal(t, before, eventIDs(events))
}

func TestFilterSessions(t *testing.T) {
	_, sessions, _ := fixture()

	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"empty config", Config{}, []string{"S1", "S2"}},
		{"by id", Config{SelectedSessionIDs: []string{"S2"}}, []string{"S2"}},
		{"event types ignored", Config{EventTypes: []models.EventType{models.EventTypeStop}}, []string{"S1", "S2"}},
		{"search title", Config{SearchTerm: "Chron"}, []string{"S1"}},
		{"search branch", Config{SearchTerm: "feature/"}, []string{"S2"}},
		{"start time range", Config{DateRange: &DateRange{To: base.Add(30 * time.Minute)}}, []string{"S1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionIDs(FilterSessions(sessions, tt.cfg)))
		})
	}
}

func TestConfig_IsZero(t *testing.T) {
	assert.True(t, Config{}.IsZero())
	assert.True(t, Config{SearchTerm: " ", DateRange: &DateRange{}}.IsZero())
	assert.False(t, Config{SearchTerm: "x"}.IsZero())
	assert.False(t, Config{EventTypes: []models.EventType{models.EventTypeStop}}.IsZero())
}

func TestDateRange_NilContainsEverything(t *testing.T) {
	var r *DateRange
	assert.True(t, r.Contains(base))
}
