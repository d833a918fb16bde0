package models

import "time"

// SessionStatus is the derived operational state of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusAwaiting  SessionStatus = "awaiting"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

// SessionStatuses lists every status in display order.
var SessionStatuses = []SessionStatus{
	SessionStatusActive,
	SessionStatusAwaiting,
	SessionStatusIdle,
	SessionStatusError,
	SessionStatusCompleted,
}

// SessionStatusRecord is recomputed from (session, events, now) and never persisted.
type SessionStatusRecord struct {
	Status           SessionStatus `json:"status"`
	LastActivity     *time.Time    `json:"lastActivity"`
	IdleTimeMs       int64         `json:"idleTimeMs"`
	HasNotification  bool          `json:"hasNotification"`
	RequiresResponse bool          `json:"requiresResponse"`
	IsSubAgent       bool          `json:"isSubAgent"`
	ErrorCount       int           `json:"errorCount"`
	ToolsInProgress  int           `json:"toolsInProgress"`
}

// IdleTime returns IdleTimeMs as a duration.
func (r SessionStatusRecord) IdleTime() time.Duration {
	return time.Duration(r.IdleTimeMs) * time.Millisecond
}

// DefaultStatusRecord is the safe fallback used when derivation fails.
func DefaultStatusRecord() SessionStatusRecord {
	return SessionStatusRecord{Status: SessionStatusIdle}
}
