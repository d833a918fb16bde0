package feed

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/store"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func insertEvent(t *testing.T, s *store.SQLiteStore, id, session string) {
	t.Helper()
	_, err := s.InsertEvent(context.Background(), &models.Event{
		ID: id, SessionID: session, Type: models.EventTypeUserPromptSubmit, Timestamp: start,
	})
	require.NoError(t, err)
}

func TestStorePoller_SyncFollowsCursor(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sink := newRecordingSink()
	p := NewStorePoller(st, sink, PollerConfig{Limit: 2}, clock.Fake(start), nil)

	require.NoError(t, st.UpsertSession(ctx, &models.Session{ID: "s1", StartTime: start}))
	for i := 0; i < 5; i++ {
		insertEvent(t, st, fmt.Sprintf("e%d", i), "s1")
	}

	res, err := p.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Sessions: 1, Events: 5, Admitted: 5}, res)
	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4"}, sink.eventIDs())

	seq, version := p.Cursors()
	assert.Equal(t, int64(5), seq)
	assert.Equal(t, int64(1), version)

	res, err = p.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res, "nothing new")

	insertEvent(t, st, "e5", "s1")
	require.NoError(t, st.UpsertSession(ctx, &models.Session{ID: "s1", StartTime: start, GitBranch: "main"}))
	res, err = p.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, 1, res.Sessions)
	assert.Equal(t, 2, sink.sessionCount())
}

func TestStorePoller_Ping(t *testing.T) {
	st := newTestStore(t)
	p := NewStorePoller(st, newRecordingSink(), PollerConfig{}, nil, nil)
	assert.NoError(t, p.Ping(context.Background()))
}

func TestStorePoller_Run(t *testing.T) {
	st := newTestStore(t)
	clk := clock.Fake(start)
	sink := newRecordingSink()
	p := NewStorePoller(st, sink, PollerConfig{Interval: time.Second}, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	clk.WaitForTimers(1)
	insertEvent(t, st, "late", "s1")
	clk.Advance(time.Second)
	assert.Eventually(t, func() bool { return len(sink.eventIDs()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
