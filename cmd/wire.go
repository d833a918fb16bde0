package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/joescharf/chronicle/internal/batch"
	"github.com/joescharf/chronicle/internal/buffer"
	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/engine"
	"github.com/joescharf/chronicle/internal/feed"
	"github.com/joescharf/chronicle/internal/git"
	"github.com/joescharf/chronicle/internal/health"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/status"
	"github.com/joescharf/chronicle/internal/store"
)

// engineConfig maps viper keys onto the engine's component configs.
func engineConfig() engine.Config {
	return engine.Config{
		Buffer: buffer.Config{
			Capacity: viper.GetInt("buffer.capacity"),
		},
		Batch: batch.Config{
			Window:         viper.GetDuration("batch.window"),
			BurstThreshold: viper.GetInt("batch.burst_threshold"),
			MaxBatchSize:   viper.GetInt("batch.max_size"),
		},
		Health: health.Config{
			HeartbeatInterval: viper.GetDuration("health.heartbeat_interval"),
			HeartbeatTimeout:  viper.GetDuration("health.heartbeat_timeout"),
			MaxMissed:         viper.GetInt("health.max_missed"),
		},
		Status: status.Config{
			IdleTimeout:    viper.GetDuration("status.idle_timeout"),
			ErrorThreshold: viper.GetInt("status.error_threshold"),
		},
	}
}

// source is a feed that can drain once, follow continuously and answer pings.
type source interface {
	Sync(ctx context.Context) (feed.SyncResult, error)
	Run(ctx context.Context) error
	Ping(ctx context.Context) error
}

// tailSource adapts FileTailer to the source interface.
type tailSource struct{ *feed.FileTailer }

func (t tailSource) Sync(context.Context) (feed.SyncResult, error) { return t.ReadNew() }

// newEngine builds an engine bound to the configured feed: a JSONL file
// when feed.file is set, otherwise the SQLite store.
func newEngine(ctx context.Context) (*engine.Engine, source, error) {
	var src source
	logger := slog.Default()
	pinger := func(ctx context.Context) error { return src.Ping(ctx) }
	eng := engine.New(engineConfig(), engine.WithLogger(logger), engine.WithPinger(pinger))

	if path := viper.GetString("feed.file"); path != "" {
		src = tailSource{feed.NewFileTailer(path, eng, logger)}
		return eng, src, nil
	}

	s, err := getStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	src = feed.NewStorePoller(s, eng, feed.PollerConfig{
		Interval: viper.GetDuration("feed.poll_interval"),
		Limit:    viper.GetInt("feed.poll_limit"),
	}, clock.Real(), logger)
	return eng, src, nil
}

// loadEngine drains the feed once and delivers everything, for one-shot commands.
func loadEngine(ctx context.Context) (*engine.Engine, error) {
	eng, src, err := newEngine(ctx)
	if err != nil {
		return nil, err
	}
	res, err := src.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync feed: %w", err)
	}
	eng.Flush()
	ui.VerboseLog("Loaded %d sessions and %d events (%d admitted)", res.Sessions, res.Events, res.Admitted)
	return eng, nil
}

// storeSink writes feed records into the store instead of an engine.
type storeSink struct {
	ctx      context.Context
	store    store.Store
	enricher *git.Enricher
}

func (s storeSink) AdmitEvent(e models.Event) bool {
	if e.SessionID == "" {
		return false
	}
	ok, err := s.store.InsertEvent(s.ctx, &e)
	if err != nil {
		slog.Warn("store event failed", "event_id", e.ID, "error", err)
		return false
	}
	return ok
}

func (s storeSink) UpsertSession(sess models.Session) error {
	s.enricher.EnrichSession(&sess)
	return s.store.UpsertSession(s.ctx, &sess)
}
