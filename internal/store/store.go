package store

import (
	"context"

	"github.com/joescharf/chronicle/internal/models"
)

// EventRecord is an event with its position in the change feed.
type EventRecord struct {
	Seq   int64
	Event *models.Event
}

// SessionRecord is a session with the feed version of its last write.
type SessionRecord struct {
	Version int64
	Session *models.Session
}

// Store is the persistence side of the change feed. Producers write
// through InsertEvent and UpsertSession; the engine only reads.
type Store interface {
	// Sessions
	UpsertSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	SessionsSince(ctx context.Context, version int64, limit int) ([]SessionRecord, error)

	// Events
	InsertEvent(ctx context.Context, e *models.Event) (bool, error)
	ListEvents(ctx context.Context, sessionID string, limit int) ([]*models.Event, error)
	EventsSince(ctx context.Context, seq int64, limit int) ([]EventRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
