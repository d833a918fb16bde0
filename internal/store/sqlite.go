package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/chronicle/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers; feed producers and the poller
	// share the file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Ping runs a trivial query; used as the feed heartbeat.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeMetadata(m models.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(raw string) (models.Metadata, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m models.Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Sessions ---

const sessionColumns = `id, claude_session_id, project_path, git_branch, start_time, end_time, metadata, version`

// UpsertSession inserts or replaces a session and bumps its feed version.
// An empty ID is assigned a ULID.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.StartTime.IsZero() {
		sess.StartTime = time.Now().UTC()
	}
	meta, err := encodeMetadata(sess.Metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	var end any
	if sess.EndTime != nil {
		end = sess.EndTime.UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, claude_session_id, project_path, git_branch, start_time, end_time, metadata, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM sessions), ?)
		ON CONFLICT(id) DO UPDATE SET
			claude_session_id=excluded.claude_session_id,
			project_path=excluded.project_path,
			git_branch=excluded.git_branch,
			start_time=excluded.start_time,
			end_time=excluded.end_time,
			metadata=excluded.metadata,
			version=excluded.version,
			updated_at=excluded.updated_at`,
		sess.ID, sess.ClaudeSessionID, sess.ProjectPath, sess.GitBranch,
		sess.StartTime.UTC(), end, meta, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, int64, error) {
	sess := &models.Session{}
	var end sql.NullTime
	var meta string
	var version int64
	if err := row.Scan(&sess.ID, &sess.ClaudeSessionID, &sess.ProjectPath, &sess.GitBranch,
		&sess.StartTime, &end, &meta, &version); err != nil {
		return nil, 0, err
	}
	if end.Valid {
		t := end.Time.UTC()
		sess.EndTime = &t
	}
	sess.StartTime = sess.StartTime.UTC()
	m, err := decodeMetadata(meta)
	if err != nil {
		return nil, 0, fmt.Errorf("decode session metadata %s: %w", sess.ID, err)
	}
	sess.Metadata = m
	return sess, version, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, _, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recently started sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY start_time DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, _, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionsSince returns sessions written after version, oldest write first.
func (s *SQLiteStore) SessionsSince(ctx context.Context, version int64, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE version > ? ORDER BY version LIMIT ?`, version, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions since %d: %w", version, err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRecord
	for rows.Next() {
		sess, v, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, SessionRecord{Version: v, Session: sess})
	}
	return out, rows.Err()
}

// --- Events ---

const eventColumns = `seq, id, session_id, type, timestamp, tool_name, metadata`

// InsertEvent appends an event to the feed. An empty ID is assigned a
// ULID. Returns false when an event with the same ID already exists.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *models.Event) (bool, error) {
	if e.ID == "" {
		e.ID = newULID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode event metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, session_id, type, timestamp, tool_name, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.SessionID, string(e.Type), e.Timestamp.UTC(), e.ToolName, meta,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func scanEvent(row rowScanner) (EventRecord, error) {
	e := &models.Event{}
	var seq int64
	var typ, meta string
	if err := row.Scan(&seq, &e.ID, &e.SessionID, &typ, &e.Timestamp, &e.ToolName, &meta); err != nil {
		return EventRecord{}, err
	}
	e.Type = models.EventType(typ)
	e.Timestamp = e.Timestamp.UTC()
	m, err := decodeMetadata(meta)
	if err != nil {
		return EventRecord{}, fmt.Errorf("decode event metadata %s: %w", e.ID, err)
	}
	e.Metadata = m
	return EventRecord{Seq: seq, Event: e}, nil
}

// ListEvents returns a session's events in timestamp order. An empty
// sessionID lists every session.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY timestamp, seq"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.Event
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, rec.Event)
	}
	return events, rows.Err()
}

// EventsSince returns events inserted after seq, in insertion order.
func (s *SQLiteStore) EventsSince(ctx context.Context, seq int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", seq, err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
