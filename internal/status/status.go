// Package status derives a session's operational status from its event
// history. Derivation is a pure function of (session, events, now).
package status

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/joescharf/chronicle/internal/models"
)

const (
	DefaultIdleTimeout    = 60 * time.Second
	DefaultErrorThreshold = 3
)

// Config holds the derivation thresholds.
type Config struct {
	IdleTimeout    time.Duration
	ErrorThreshold int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{IdleTimeout: DefaultIdleTimeout, ErrorThreshold: DefaultErrorThreshold}
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	return c
}

// Deriver computes SessionStatusRecords with a fixed configuration.
type Deriver struct {
	cfg    Config
	logger *slog.Logger

	derive func(models.Session, []models.Event, time.Time) models.SessionStatusRecord
}

// NewDeriver returns a Deriver. A nil logger falls back to slog.Default().
func NewDeriver(cfg Config, logger *slog.Logger) *Deriver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deriver{cfg: cfg.withDefaults(), logger: logger}
	d.derive = d.DeriveStatus
	return d
}

// Config returns the effective configuration.
func (d *Deriver) Config() Config { return d.cfg }

// DeriveStatus computes the status record for one session. The first
// matching rule wins: completed, error, awaiting, active, idle.
func (d *Deriver) DeriveStatus(session models.Session, events []models.Event, now time.Time) models.SessionStatusRecord {
	ordered := sortedByTime(events)

	var rec models.SessionStatusRecord
	completed := session.Ended()
	subAgent := session.Metadata.IsSubAgentFlag()
	pendingNotification := -1
	inFlight := make(map[string]int)

	for i := range ordered {
		e := &ordered[i]
		switch e.Type {
		case models.EventTypeStop:
			completed = true
			pendingNotification = -1
		case models.EventTypeError:
			rec.ErrorCount++
		case models.EventTypeSubagentStop:
			subAgent = true
		case models.EventTypeNotification:
			rec.HasNotification = true
			pendingNotification = i
		case models.EventTypePreToolUse:
			inFlight[e.ToolName]++
			pendingNotification = -1
		case models.EventTypePostToolUse:
			if inFlight[e.ToolName] > 0 {
				inFlight[e.ToolName]--
			}
			pendingNotification = -1
		case models.EventTypeUserPromptSubmit:
			pendingNotification = -1
		}
	}
	for _, n := range inFlight {
		rec.ToolsInProgress += n
	}
	rec.IsSubAgent = subAgent
	rec.RequiresResponse = pendingNotification >= 0 && ordered[pendingNotification].Metadata.RequiresResponse()

	var last time.Time
	if len(ordered) > 0 {
		last = ordered[len(ordered)-1].Timestamp
	} else {
		last = session.StartTime
	}
	idleKnown := !last.IsZero()
	if idleKnown {
		la := last
		rec.LastActivity = &la
		if idle := now.Sub(last); idle > 0 {
			rec.IdleTimeMs = idle.Milliseconds()
		}
	}

	switch {
	case completed:
		rec.Status = models.SessionStatusCompleted
	case rec.ErrorCount >= d.cfg.ErrorThreshold:
		rec.Status = models.SessionStatusError
	case rec.RequiresResponse:
		rec.Status = models.SessionStatusAwaiting
	case idleKnown && rec.IdleTime() < d.cfg.IdleTimeout, rec.ToolsInProgress > 0:
		rec.Status = models.SessionStatusActive
	default:
		rec.Status = models.SessionStatusIdle
	}
	return rec
}

// DeriveStatusBatch derives every session in sessions. A session whose
// derivation fails gets DefaultStatusRecord; the rest are unaffected.
func (d *Deriver) DeriveStatusBatch(sessions []models.Session, eventsBySession map[string][]models.Event, now time.Time) map[string]models.SessionStatusRecord {
	out := make(map[string]models.SessionStatusRecord, len(sessions))
	for _, s := range sessions {
		rec, err := d.safeDerive(s, eventsBySession[s.ID], now)
		if err != nil {
			d.logger.Warn("status derivation failed", "session_id", s.ID, "error", err)
			rec = models.DefaultStatusRecord()
		}
		out[s.ID] = rec
	}
	return out
}

func (d *Deriver) safeDerive(s models.Session, events []models.Event, now time.Time) (rec models.SessionStatusRecord, err error) {
	if verr := s.Validate(); verr != nil {
		return rec, &models.DerivationError{SessionID: s.ID, Cause: verr}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &models.DerivationError{SessionID: s.ID, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.derive(s, events, now), nil
}

// DeriveStatus derives one session with the default thresholds.
func DeriveStatus(session models.Session, events []models.Event, now time.Time) models.SessionStatusRecord {
	return NewDeriver(DefaultConfig(), nil).DeriveStatus(session, events, now)
}

// DeriveStatusBatch derives many sessions with the default thresholds.
func DeriveStatusBatch(sessions []models.Session, eventsBySession map[string][]models.Event, now time.Time) map[string]models.SessionStatusRecord {
	return NewDeriver(DefaultConfig(), nil).DeriveStatusBatch(sessions, eventsBySession, now)
}

// sortedByTime returns a copy of events ordered by timestamp. Ties keep input order.
func sortedByTime(events []models.Event) []models.Event {
	out := make([]models.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
