// Package engine wires the buffer, batcher, health monitor and status
// deriver into the ingestion core consumed by the API, MCP and CLI layers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/chronicle/internal/batch"
	"github.com/joescharf/chronicle/internal/buffer"
	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/filter"
	"github.com/joescharf/chronicle/internal/health"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/pubsub"
	"github.com/joescharf/chronicle/internal/status"
)

// Config aggregates the component configurations.
type Config struct {
	Buffer buffer.Config
	Batch  batch.Config
	Health health.Config
	Status status.Config
}

// DefaultConfig returns defaults for every component.
func DefaultConfig() Config {
	return Config{
		Buffer: buffer.DefaultConfig(),
		Batch:  batch.DefaultConfig(),
		Health: health.DefaultConfig(),
		Status: status.DefaultConfig(),
	}
}

// StatusChange is published when a session's derived record changes.
type StatusChange struct {
	SessionID string                     `json:"sessionId"`
	Record    models.SessionStatusRecord `json:"record"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for batching, heartbeats and idle time.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPinger sets the heartbeat round trip against the upstream feed.
func WithPinger(p health.Pinger) Option {
	return func(e *Engine) { e.pinger = p }
}

// Engine is the ingestion core. All methods are safe for concurrent use.
type Engine struct {
	clock  clock.Clock
	logger *slog.Logger
	pinger health.Pinger

	buffer  *buffer.Buffer
	batcher *batch.Batcher
	monitor *health.Monitor
	deriver *status.Deriver

	statusSubs *pubsub.Registry[StatusChange]

	// ingestMu keeps batch order identical to buffer order.
	ingestMu sync.Mutex

	// deriveMu serializes recomputation so status changes publish in order.
	deriveMu sync.Mutex

	mu               sync.RWMutex
	sessions         map[string]models.Session
	order            []string
	statuses         map[string]models.SessionStatusRecord
	rejectedSessions uint64
}

// New builds an Engine. Call Start to run the batching and heartbeat tickers.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		sessions: make(map[string]models.Session),
		statuses: make(map[string]models.SessionStatusRecord),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.buffer = buffer.New(cfg.Buffer, e.logger)
	e.batcher = batch.New(cfg.Batch, e.clock, e.logger)
	e.monitor = health.NewMonitor(cfg.Health, e.clock, e.pinger, e.logger)
	e.deriver = status.NewDeriver(cfg.Status, e.logger)
	e.statusSubs = pubsub.New[StatusChange]("status", e.logger)

	e.batcher.Subscribe(e.onBatch)
	return e
}

// Start runs the batching window and heartbeat tickers.
func (e *Engine) Start(ctx context.Context) {
	e.batcher.Start(ctx)
	e.monitor.Start(ctx)
}

// Stop halts the tickers and flushes pending events.
func (e *Engine) Stop() {
	e.monitor.Stop()
	e.batcher.Stop()
}

// AdmitEvent offers a raw event to the buffer. Accepted events reset the
// last-event clock and join the pending batch. Duplicates and malformed
// events return false.
func (e *Engine) AdmitEvent(ev models.Event) bool {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	stored, ok := e.buffer.Store(ev)
	if !ok {
		return false
	}
	e.monitor.RecordEventReceived()
	e.batcher.Enqueue(stored)
	return true
}

// UpsertSession inserts or replaces a session and recomputes its status.
// A session without an id is counted and returned as a MalformedInputError.
func (e *Engine) UpsertSession(s models.Session) error {
	if err := s.Validate(); err != nil {
		e.mu.Lock()
		e.rejectedSessions++
		e.mu.Unlock()
		e.logger.Debug("session rejected", "error", err)
		return err
	}
	s.Metadata = s.Metadata.Clone()

	e.mu.Lock()
	if _, ok := e.sessions[s.ID]; !ok {
		e.order = append(e.order, s.ID)
	}
	e.sessions[s.ID] = s
	e.mu.Unlock()

	e.recompute([]string{s.ID})
	return nil
}

// RecordHeartbeat reports an externally measured heartbeat response.
func (e *Engine) RecordHeartbeat(rtt time.Duration) {
	e.monitor.RecordHeartbeat(rtt)
}

// Flush emits the pending batch immediately.
func (e *Engine) Flush() bool {
	return e.batcher.Flush()
}

// Refresh recomputes every session against the current time so idle
// transitions surface without new events.
func (e *Engine) Refresh() {
	e.mu.RLock()
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	e.mu.RUnlock()
	e.recompute(ids)
}

// SubscribeBatches registers fn for every emitted batch. fn may run
// inside AdmitEvent and must not call it.
func (e *Engine) SubscribeBatches(fn func(models.EventBatch)) func() {
	return e.batcher.Subscribe(fn)
}

// SubscribeStatus registers fn for session status changes. fn must not
// call UpsertSession, AdmitEvent, Flush or Refresh.
func (e *Engine) SubscribeStatus(fn func(sessionID string, rec models.SessionStatusRecord)) func() {
	return e.statusSubs.Subscribe(func(c StatusChange) { fn(c.SessionID, c.Record) })
}

// SubscribeHealth registers fn for connection health updates.
func (e *Engine) SubscribeHealth(fn func(models.ConnectionHealthMetrics)) func() {
	return e.monitor.SubscribeHealth(fn)
}

// SubscribeReconnect registers fn for the edge-triggered reconnect signal.
func (e *Engine) SubscribeReconnect(fn func()) func() {
	return e.monitor.SubscribeReconnect(fn)
}

func (e *Engine) onBatch(b models.EventBatch) {
	e.recompute(b.SessionIDs())
}

// recompute derives the given sessions from a buffer snapshot and
// publishes the records that changed. Unknown session ids are skipped.
func (e *Engine) recompute(ids []string) {
	if len(ids) == 0 {
		return
	}
	e.deriveMu.Lock()
	defer e.deriveMu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	e.mu.RLock()
	sessions := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := e.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	e.mu.RUnlock()
	if len(sessions) == 0 {
		return
	}

	byID := make(map[string][]models.Event, len(sessions))
	for _, ev := range e.buffer.Snapshot() {
		if _, ok := want[ev.SessionID]; ok {
			byID[ev.SessionID] = append(byID[ev.SessionID], ev)
		}
	}
	derived := e.deriver.DeriveStatusBatch(sessions, byID, e.clock.Now())

	var changes []StatusChange
	e.mu.Lock()
	for _, s := range sessions {
		rec := derived[s.ID]
		if prev, ok := e.statuses[s.ID]; !ok || !sameRecord(prev, rec) {
			changes = append(changes, StatusChange{SessionID: s.ID, Record: rec})
		}
		e.statuses[s.ID] = rec
	}
	e.mu.Unlock()

	for _, c := range changes {
		e.statusSubs.Publish(c)
	}
}

// sameRecord compares everything except idle time, which moves on every
// recomputation.
func sameRecord(a, b models.SessionStatusRecord) bool {
	a.IdleTimeMs, b.IdleTimeMs = 0, 0
	if (a.LastActivity == nil) != (b.LastActivity == nil) {
		return false
	}
	if a.LastActivity != nil && !a.LastActivity.Equal(*b.LastActivity) {
		return false
	}
	a.LastActivity, b.LastActivity = nil, nil
	return a == b
}

// GetFilteredEvents returns buffered events matching cfg in admission order.
func (e *Engine) GetFilteredEvents(cfg filter.Config) []models.Event {
	events := e.buffer.Snapshot()
	e.mu.RLock()
	sessions := make(map[string]models.Session, len(e.sessions))
	for id, s := range e.sessions {
		sessions[id] = s
	}
	e.mu.RUnlock()
	return filter.FilterEvents(events, cfg, sessions)
}

// GetFilteredSessions returns known sessions matching cfg in first-upsert order.
func (e *Engine) GetFilteredSessions(cfg filter.Config) []models.Session {
	return filter.FilterSessions(e.Sessions(), cfg)
}

// GetSessionStatusSummary counts sessions per status.
func (e *Engine) GetSessionStatusSummary() status.Summary {
	return status.SummarizeStatuses(e.Statuses())
}

// Sessions returns every known session in first-upsert order.
func (e *Engine) Sessions() []models.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Session, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.sessions[id])
	}
	return out
}

// Session returns one session by id.
func (e *Engine) Session(id string) (models.Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return s, nil
}

// Statuses returns a copy of the current status map.
func (e *Engine) Statuses() map[string]models.SessionStatusRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]models.SessionStatusRecord, len(e.statuses))
	for id, rec := range e.statuses {
		out[id] = rec
	}
	return out
}

// Status returns the current record for one session.
func (e *Engine) Status(id string) (models.SessionStatusRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.statuses[id]
	if !ok {
		return models.SessionStatusRecord{}, fmt.Errorf("status for session %s: %w", id, models.ErrNotFound)
	}
	return rec, nil
}

// SessionsRequiringAttention returns awaiting and errored sessions.
func (e *Engine) SessionsRequiringAttention() []models.Session {
	return status.GetSessionsRequiringAttention(e.Sessions(), e.Statuses())
}

// Health returns the connection health metrics.
func (e *Engine) Health() models.ConnectionHealthMetrics {
	return e.monitor.Metrics()
}

// Quality rates the connection for display.
func (e *Engine) Quality() models.Quality {
	return e.monitor.Quality()
}

// Stats aggregates component counters.
type Stats struct {
	Buffer           buffer.Stats `json:"buffer"`
	Batch            batch.Stats  `json:"batch"`
	Sessions         int          `json:"sessions"`
	RejectedSessions uint64       `json:"rejectedSessions"`
}

// BufferStats returns the buffer counters.
func (e *Engine) BufferStats() buffer.Stats {
	return e.buffer.Stats()
}

// Stats returns counters for every component.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	sessions, rejected := len(e.sessions), e.rejectedSessions
	e.mu.RUnlock()
	return Stats{
		Buffer:           e.buffer.Stats(),
		Batch:            e.batcher.Stats(),
		Sessions:         sessions,
		RejectedSessions: rejected,
	}
}
