package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/store"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultPollLimit    = 500
)

// Source is the read side of the store change feed.
type Source interface {
	EventsSince(ctx context.Context, seq int64, limit int) ([]store.EventRecord, error)
	SessionsSince(ctx context.Context, version int64, limit int) ([]store.SessionRecord, error)
	Ping(ctx context.Context) error
}

// PollerConfig controls polling.
type PollerConfig struct {
	Interval time.Duration
	Limit    int
}

// StorePoller follows the store's event sequence and session versions
// and hands new rows to a Sink.
type StorePoller struct {
	src    Source
	sink   Sink
	cfg    PollerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	eventCursor   int64
	sessionCursor int64
}

// NewStorePoller creates a poller starting at the beginning of the feed.
func NewStorePoller(src Source, sink Sink, cfg PollerConfig, clk clock.Clock, logger *slog.Logger) *StorePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultPollLimit
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StorePoller{src: src, sink: sink, cfg: cfg, clock: clk, logger: logger}
}

// Cursors returns the last delivered event seq and session version.
func (p *StorePoller) Cursors() (eventSeq, sessionVersion int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eventCursor, p.sessionCursor
}

// Ping is the heartbeat round trip against the store.
func (p *StorePoller) Ping(ctx context.Context) error {
	return p.src.Ping(ctx)
}

// Sync drains everything new in the feed. Sessions are delivered before
// events so statuses can be derived as soon as events arrive.
func (p *StorePoller) Sync(ctx context.Context) (SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total SyncResult
	for {
		res, more, err := p.syncSessions(ctx)
		total.add(res)
		if err != nil {
			return total, err
		}
		if !more {
			break
		}
	}
	for {
		res, more, err := p.syncEvents(ctx)
		total.add(res)
		if err != nil {
			return total, err
		}
		if !more {
			break
		}
	}
	return total, nil
}

func (p *StorePoller) syncSessions(ctx context.Context) (SyncResult, bool, error) {
	var res SyncResult
	recs, err := p.src.SessionsSince(ctx, p.sessionCursor, p.cfg.Limit)
	if err != nil {
		return res, false, fmt.Errorf("poll sessions: %w", err)
	}
	for _, rec := range recs {
		res.Sessions++
		if err := p.sink.UpsertSession(*rec.Session); err != nil {
			res.Rejected++
			p.logger.Debug("session rejected", "session_id", rec.Session.ID, "error", err)
		}
		p.sessionCursor = rec.Version
	}
	return res, len(recs) == p.cfg.Limit, nil
}

func (p *StorePoller) syncEvents(ctx context.Context) (SyncResult, bool, error) {
	var res SyncResult
	recs, err := p.src.EventsSince(ctx, p.eventCursor, p.cfg.Limit)
	if err != nil {
		return res, false, fmt.Errorf("poll events: %w", err)
	}
	for _, rec := range recs {
		res.Events++
		if p.sink.AdmitEvent(*rec.Event) {
			res.Admitted++
		}
		p.eventCursor = rec.Seq
	}
	return res, len(recs) == p.cfg.Limit, nil
}

// Run polls until ctx is cancelled. Poll failures are logged and retried
// on the next tick.
func (p *StorePoller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if _, err := p.Sync(ctx); err != nil {
		p.logger.Warn("feed poll failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := p.Sync(ctx)
			if err != nil {
				p.logger.Warn("feed poll failed", "error", err)
				continue
			}
			if res.Events > 0 || res.Sessions > 0 {
				p.logger.Debug("feed poll", "sessions", res.Sessions, "events", res.Events, "admitted", res.Admitted)
			}
		}
	}
}
