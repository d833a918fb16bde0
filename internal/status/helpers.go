package status

import "github.com/joescharf/chronicle/internal/models"

// FilterByStatus returns the sessions whose record has the given status,
// in input order. Sessions without a record are skipped.
func FilterByStatus(sessions []models.Session, statuses map[string]models.SessionStatusRecord, status models.SessionStatus) []models.Session {
	var out []models.Session
	for _, s := range sessions {
		if rec, ok := statuses[s.ID]; ok && rec.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// GetActiveSessions returns the sessions currently active.
func GetActiveSessions(sessions []models.Session, statuses map[string]models.SessionStatusRecord) []models.Session {
	return FilterByStatus(sessions, statuses, models.SessionStatusActive)
}

// NeedsAttention reports whether a status calls for the user.
func NeedsAttention(s models.SessionStatus) bool {
	return s == models.SessionStatusAwaiting || s == models.SessionStatusError
}

// GetSessionsRequiringAttention returns awaiting and errored sessions, in input order.
func GetSessionsRequiringAttention(sessions []models.Session, statuses map[string]models.SessionStatusRecord) []models.Session {
	var out []models.Session
	for _, s := range sessions {
		if rec, ok := statuses[s.ID]; ok && NeedsAttention(rec.Status) {
			out = append(out, s)
		}
	}
	return out
}

// Summary counts sessions per status bucket.
type Summary struct {
	Active    int `json:"active"`
	Idle      int `json:"idle"`
	Awaiting  int `json:"awaiting"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
	Total     int `json:"total"`
}

// Count returns the bucket for s.
func (m Summary) Count(s models.SessionStatus) int {
	switch s {
	case models.SessionStatusActive:
		return m.Active
	case models.SessionStatusIdle:
		return m.Idle
	case models.SessionStatusAwaiting:
		return m.Awaiting
	case models.SessionStatusCompleted:
		return m.Completed
	case models.SessionStatusError:
		return m.Error
	}
	return 0
}

// SummarizeStatuses counts records per status.
func SummarizeStatuses(statuses map[string]models.SessionStatusRecord) Summary {
	var m Summary
	for _, rec := range statuses {
		switch rec.Status {
		case models.SessionStatusActive:
			m.Active++
		case models.SessionStatusIdle:
			m.Idle++
		case models.SessionStatusAwaiting:
			m.Awaiting++
		case models.SessionStatusCompleted:
			m.Completed++
		case models.SessionStatusError:
			m.Error++
		}
		m.Total++
	}
	return m
}
