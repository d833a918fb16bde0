package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/status"
)

// SessionsTable renders one row per session with its derived status.
// Sessions without a status record show "-".
func (u *UI) SessionsTable(sessions []models.Session, statuses map[string]models.SessionStatusRecord, now time.Time) error {
	table := u.Table([]string{"Session", "Title", "Branch", "Status", "Tools", "Errors", "Activity"})
	for _, s := range sessions {
		st, tools, errs, activity := "-", "-", "-", "-"
		if rec, ok := statuses[s.ID]; ok {
			st = StatusColor(rec.Status)
			if rec.IsSubAgent {
				st += " (sub)"
			}
			tools = fmt.Sprintf("%d", rec.ToolsInProgress)
			errs = fmt.Sprintf("%d", rec.ErrorCount)
			activity = Ago(rec.LastActivity, now)
		}
		_ = table.Append([]string{s.ID, s.Title(), s.GitBranch, st, tools, errs, activity})
	}
	return table.Render()
}

// EventsTable renders events oldest first. titles maps session id to a
// display title; missing entries fall back to the id.
func (u *UI) EventsTable(events []models.Event, titles map[string]string) error {
	table := u.Table([]string{"Time", "Session", "Type", "Summary"})
	for _, e := range events {
		session := e.SessionID
		if t, ok := titles[e.SessionID]; ok && t != "" {
			session = t
		}
		_ = table.Append([]string{
			e.Timestamp.Local().Format("15:04:05"),
			session,
			EventTypeColor(e.Type),
			e.Summary(),
		})
	}
	return table.Render()
}

// SummaryLine formats status counts as a single line, skipping empty buckets.
func SummaryLine(sum status.Summary) string {
	if sum.Total == 0 {
		return "no sessions"
	}
	parts := []string{fmt.Sprintf("%d sessions", sum.Total)}
	for _, st := range models.SessionStatuses {
		if n := sum.Count(st); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, StatusColor(st)))
		}
	}
	return strings.Join(parts, ", ")
}

// HealthLine formats connection metrics for the status header.
func HealthLine(m models.ConnectionHealthMetrics, q models.Quality) string {
	state := Green("connected")
	if !m.IsHealthy {
		state = Red("degraded")
	}
	latency := "-"
	if m.HasLatencySample {
		latency = fmt.Sprintf("%.0fms", m.LatencyMs)
	}
	return fmt.Sprintf("%s  quality=%s  latency=%s  missed=%d  reconnects=%d",
		state, QualityColor(q), latency, m.MissedHeartbeats, m.ReconnectCount)
}
