package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/chronicle/internal/engine"
	"github.com/joescharf/chronicle/internal/filter"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/status"
)

// defaultEventLimit bounds list_events output so replies stay small.
const defaultEventLimit = 100

// Server exposes the engine's query interface as MCP tools.
type Server struct {
	engine  *engine.Engine
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(eng *engine.Engine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{engine: eng, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("chronicle", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listEventsTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.statusSummaryTool())
	srv.AddTool(s.attentionTool())
	srv.AddTool(s.connectionHealthTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// chronicle_list_events
func (s *Server) listEventsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("chronicle_list_events",
		mcp.WithDescription("List buffered agent session events, oldest first. Filters combine with AND; values within sessions or types combine with OR."),
		mcp.WithArray("sessions", mcp.WithStringItems(), mcp.Description("Session ids to include")),
		mcp.WithArray("types", mcp.WithStringItems(), mcp.Description("Event types to include, e.g. pre_tool_use, notification, error")),
		mcp.WithString("query", mcp.Description("Case-insensitive text matched against event summary, tool name and session title, project or branch")),
		mcp.WithString("from", mcp.Description("Earliest event timestamp, RFC3339")),
		mcp.WithString("to", mcp.Description("Latest event timestamp, RFC3339")),
		mcp.WithNumber("limit", mcp.Description("Return only the newest N matching events (default 100)")),
	)
	return tool, s.handleListEvents
}

func (s *Server) handleListEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := filter.Config{
		SelectedSessionIDs: request.GetStringSlice("sessions", nil),
		SearchTerm:         request.GetString("query", ""),
	}
	for _, raw := range request.GetStringSlice("types", nil) {
		t := models.EventType(raw)
		if !t.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown event type: %s", raw)), nil
		}
		cfg.EventTypes = append(cfg.EventTypes, t)
	}

	var dr filter.DateRange
	for key, dst := range map[string]*time.Time{"from": &dr.From, "to": &dr.To} {
		raw := request.GetString(key, "")
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid %s timestamp: %s", key, raw)), nil
		}
		*dst = ts
	}
	if !dr.From.IsZero() || !dr.To.IsZero() {
		cfg.DateRange = &dr
	}

	limit := request.GetInt("limit", defaultEventLimit)
	events := s.engine.GetFilteredEvents(cfg)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	type eventOut struct {
		ID        string           `json:"id"`
		SessionID string           `json:"session_id"`
		Type      models.EventType `json:"type"`
		Timestamp time.Time        `json:"timestamp"`
		Summary   string           `json:"summary"`
	}
	out := make([]eventOut, len(events))
	for i, e := range events {
		out[i] = eventOut{ID: e.ID, SessionID: e.SessionID, Type: e.Type, Timestamp: e.Timestamp, Summary: e.Summary()}
	}
	return jsonResult(out, "events")
}

// chronicle_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("chronicle_list_sessions",
		mcp.WithDescription("List known agent sessions with their derived status (active, idle, awaiting, completed, error)."),
		mcp.WithString("query", mcp.Description("Case-insensitive text matched against session title, project folder and git branch")),
		mcp.WithString("status", mcp.Description("Only sessions with this status"),
			mcp.Enum("active", "idle", "awaiting", "completed", "error")),
	)
	return tool, s.handleListSessions
}

type sessionOut struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Project         string               `json:"project"`
	Branch          string               `json:"branch,omitempty"`
	Status          models.SessionStatus `json:"status,omitempty"`
	IdleSeconds     int64                `json:"idle_seconds"`
	ToolsInProgress int                  `json:"tools_in_progress"`
	ErrorCount      int                  `json:"error_count"`
	SubAgent        bool                 `json:"sub_agent,omitempty"`
}

func toSessionOut(sess models.Session, statuses map[string]models.SessionStatusRecord) sessionOut {
	out := sessionOut{
		ID:      sess.ID,
		Title:   sess.Title(),
		Project: sess.ProjectPath,
		Branch:  sess.GitBranch,
	}
	if rec, ok := statuses[sess.ID]; ok {
		out.Status = rec.Status
		out.IdleSeconds = rec.IdleTimeMs / 1000
		out.ToolsInProgress = rec.ToolsInProgress
		out.ErrorCount = rec.ErrorCount
		out.SubAgent = rec.IsSubAgent
	}
	return out
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.engine.GetFilteredSessions(filter.Config{SearchTerm: request.GetString("query", "")})
	statuses := s.engine.Statuses()

	if want := request.GetString("status", ""); want != "" {
		st := models.SessionStatus(want)
		valid := false
		for _, known := range models.SessionStatuses {
			if st == known {
				valid = true
				break
			}
		}
		if !valid {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", want)), nil
		}
		sessions = status.FilterByStatus(sessions, statuses, st)
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = toSessionOut(sess, statuses)
	}
	return jsonResult(out, "sessions")
}

// chronicle_status_summary
func (s *Server) statusSummaryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("chronicle_status_summary",
		mcp.WithDescription("Count sessions per status bucket."),
	)
	return tool, s.handleStatusSummary
}

func (s *Server) handleStatusSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.GetSessionStatusSummary(), "summary")
}

// chronicle_attention
func (s *Server) attentionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("chronicle_attention",
		mcp.WithDescription("List sessions that need the user: waiting for a response or failing with repeated errors."),
	)
	return tool, s.handleAttention
}

func (s *Server) handleAttention(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses := s.engine.Statuses()
	sessions := s.engine.SessionsRequiringAttention()
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions need attention."), nil
	}
	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = toSessionOut(sess, statuses)
	}
	return jsonResult(out, "sessions")
}

// chronicle_connection_health
func (s *Server) connectionHealthTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("chronicle_connection_health",
		mcp.WithDescription("Report upstream feed health: heartbeat latency, missed heartbeats, reconnects and a quality rating."),
	)
	return tool, s.handleConnectionHealth
}

func (s *Server) handleConnectionHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.engine.Stats()
	result := map[string]any{
		"health":  s.engine.Health(),
		"quality": s.engine.Quality(),
		"buffer":  stats.Buffer,
		"batches": stats.Batch,
	}
	return jsonResult(result, "health")
}
