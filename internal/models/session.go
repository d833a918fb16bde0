package models

import (
	"path/filepath"
	"time"
)

// Session represents one agent run.
type Session struct {
	ID              string     `json:"id"`
	ClaudeSessionID string     `json:"claudeSessionId,omitempty"`
	ProjectPath     string     `json:"projectPath,omitempty"`
	GitBranch       string     `json:"gitBranch,omitempty"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Metadata        Metadata   `json:"metadata,omitempty"`
}

// Validate checks the fields the engine depends on.
func (s *Session) Validate() error {
	if s.ID == "" {
		return &MalformedInputError{Kind: "session", Field: "id"}
	}
	return nil
}

// ProjectName returns the project folder name.
func (s *Session) ProjectName() string {
	if s.ProjectPath == "" {
		return ""
	}
	return filepath.Base(s.ProjectPath)
}

// Title returns the display title: explicit metadata title, then project
// folder, then the external correlation key, then the id.
func (s *Session) Title() string {
	if t := s.Metadata.String("title"); t != "" {
		return t
	}
	if name := s.ProjectName(); name != "" {
		return name
	}
	if s.ClaudeSessionID != "" {
		return s.ClaudeSessionID
	}
	return s.ID
}

// Ended reports whether the session has an end time.
func (s *Session) Ended() bool {
	return s.EndTime != nil && !s.EndTime.IsZero()
}
