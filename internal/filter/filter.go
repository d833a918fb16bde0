// Package filter computes the visible subset of events and sessions for
// a filter configuration. Dimensions combine with AND, values within a
// dimension with OR. Output always preserves input order.
package filter

import (
	"strings"
	"time"

	"github.com/joescharf/chronicle/internal/models"
)

// DateRange bounds timestamps inclusively. A zero bound is open.
type DateRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

// Contains reports whether t falls within the range.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Config is a user filter selection. Empty dimensions match everything.
type Config struct {
	SelectedSessionIDs []string           `json:"selectedSessionIds,omitempty"`
	EventTypes         []models.EventType `json:"eventTypes,omitempty"`
	SearchTerm         string             `json:"searchTerm,omitempty"`
	DateRange          *DateRange         `json:"dateRange,omitempty"`
}

// IsZero reports whether the config constrains nothing.
func (c Config) IsZero() bool {
	return len(c.SelectedSessionIDs) == 0 &&
		len(c.EventTypes) == 0 &&
		strings.TrimSpace(c.SearchTerm) == "" &&
		(c.DateRange == nil || (c.DateRange.From.IsZero() && c.DateRange.To.IsZero()))
}

type matcher struct {
	sessionIDs map[string]struct{}
	types      map[models.EventType]struct{}
	term       string
	dates      *DateRange
}

func compile(c Config) matcher {
	m := matcher{
		term:  strings.ToLower(strings.TrimSpace(c.SearchTerm)),
		dates: c.DateRange,
	}
	if len(c.SelectedSessionIDs) > 0 {
		m.sessionIDs = make(map[string]struct{}, len(c.SelectedSessionIDs))
		for _, id := range c.SelectedSessionIDs {
			m.sessionIDs[id] = struct{}{}
		}
	}
	if len(c.EventTypes) > 0 {
		m.types = make(map[models.EventType]struct{}, len(c.EventTypes))
		for _, t := range c.EventTypes {
			m.types[t] = struct{}{}
		}
	}
	return m
}

func (m matcher) session(id string) bool {
	if m.sessionIDs == nil {
		return true
	}
	_, ok := m.sessionIDs[id]
	return ok
}

func (m matcher) eventType(t models.EventType) bool {
	if m.types == nil {
		return true
	}
	_, ok := m.types[t]
	return ok
}

func (m matcher) search(fields ...string) bool {
	if m.term == "" {
		return true
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), m.term) {
			return true
		}
	}
	return false
}

// FilterEvents returns the events matching cfg. sessions resolves an
// event's owning session for the title, project and branch search
// fields; it may be nil.
func FilterEvents(events []models.Event, cfg Config, sessions map[string]models.Session) []models.Event {
	m := compile(cfg)
	out := make([]models.Event, 0, len(events))
	for _, e := range events {
		if !m.session(e.SessionID) || !m.eventType(e.Type) || !m.dates.Contains(e.Timestamp) {
			continue
		}
		if m.term != "" {
			fields := []string{e.Summary(), e.ToolName}
			if s, ok := sessions[e.SessionID]; ok {
				fields = append(fields, s.Title(), s.ProjectName(), s.GitBranch)
			}
			if !m.search(fields...) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// FilterSessions returns the sessions matching cfg. EventTypes does not
// constrain sessions; DateRange applies to StartTime.
func FilterSessions(sessions []models.Session, cfg Config) []models.Session {
	m := compile(cfg)
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		if !m.session(s.ID) || !m.dates.Contains(s.StartTime) {
			continue
		}
		if !m.search(s.Title(), s.ProjectName(), s.GitBranch) {
			continue
		}
		out = append(out, s)
	}
	return out
}
