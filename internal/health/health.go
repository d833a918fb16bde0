// Package health tracks heartbeats, latency and missed beats for the
// upstream feed and signals reconnects on unhealthy transitions.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/pubsub"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultMaxMissed         = 2

	// latencyAlpha weights the newest sample in the moving average.
	latencyAlpha = 0.3
)

// errHeartbeatTimeout marks a ping that did not answer within HeartbeatTimeout.
var errHeartbeatTimeout = errors.New("heartbeat timed out")

// Pinger performs one heartbeat round trip against the upstream feed.
type Pinger func(ctx context.Context) error

// Config controls heartbeat scheduling. The connection turns unhealthy
// once MissedHeartbeats exceeds MaxMissed.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxMissed         int
}

// DefaultConfig returns the default heartbeat configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		MaxMissed:         DefaultMaxMissed,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = d.MaxMissed
	}
	return c
}

// Monitor owns the ConnectionHealthMetrics. Health subscribers are
// notified after every heartbeat outcome; reconnect subscribers once per
// healthy to unhealthy transition.
type Monitor struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	pinger Pinger

	healthSubs    *pubsub.Registry[models.ConnectionHealthMetrics]
	reconnectSubs *pubsub.Registry[struct{}]

	mu        sync.Mutex
	m         models.ConnectionHealthMetrics
	responded bool // a heartbeat arrived since the last tick
	inFlight  bool

	// publishMu is taken before mu is released so snapshots reach
	// subscribers in the order they were taken.
	publishMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor that starts out healthy. A nil pinger
// means heartbeats are reported externally through RecordHeartbeat.
func NewMonitor(cfg Config, clk clock.Clock, pinger Pinger, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:           cfg.withDefaults(),
		clock:         clk,
		logger:        logger,
		pinger:        pinger,
		healthSubs:    pubsub.New[models.ConnectionHealthMetrics]("health", logger),
		reconnectSubs: pubsub.New[struct{}]("reconnect", logger),
		m:             models.ConnectionHealthMetrics{IsHealthy: true},
	}
}

// Config returns the effective configuration.
func (h *Monitor) Config() Config { return h.cfg }

// SubscribeHealth registers fn for metrics updates. Updates are
// delivered one at a time in the order they were recorded; fn must not
// record heartbeats itself.
func (h *Monitor) SubscribeHealth(fn func(models.ConnectionHealthMetrics)) func() {
	return h.healthSubs.Subscribe(fn)
}

// SubscribeReconnect registers fn for the reconnect signal.
func (h *Monitor) SubscribeReconnect(fn func()) func() {
	return h.reconnectSubs.Subscribe(func(struct{}) { fn() })
}

// Metrics returns a copy of the current metrics.
func (h *Monitor) Metrics() models.ConnectionHealthMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.m
}

// Quality rates the current metrics.
func (h *Monitor) Quality() models.Quality {
	m := h.Metrics()
	return Quality(m.LatencyMs, m.MissedHeartbeats, m.HasLatencySample)
}

// RecordEventReceived stamps the time of the latest admitted event.
func (h *Monitor) RecordEventReceived() {
	now := h.clock.Now()
	h.mu.Lock()
	h.m.LastEventTime = &now
	h.mu.Unlock()
}

// RecordHeartbeat records a heartbeat response with the given round trip.
func (h *Monitor) RecordHeartbeat(rtt time.Duration) {
	now := h.clock.Now()
	ms := float64(rtt) / float64(time.Millisecond)

	h.mu.Lock()
	if h.m.HasLatencySample {
		h.m.LatencyMs = latencyAlpha*ms + (1-latencyAlpha)*h.m.LatencyMs
	} else {
		h.m.LatencyMs = ms
		h.m.HasLatencySample = true
	}
	h.m.MissedHeartbeats = 0
	h.m.LastHeartbeat = &now
	h.responded = true
	h.settle()
}

// RecordMissedHeartbeat counts one heartbeat that got no response in time.
func (h *Monitor) RecordMissedHeartbeat() {
	h.mu.Lock()
	h.m.MissedHeartbeats++
	h.settle()
}

// settle latches the health flag and notifies subscribers. Must be
// called with h.mu held; it releases h.mu.
func (h *Monitor) settle() {
	healthy := h.m.MissedHeartbeats <= h.cfg.MaxMissed
	wasHealthy := h.m.IsHealthy
	reconnect := wasHealthy && !healthy
	if reconnect {
		h.m.ReconnectCount++
	}
	h.m.IsHealthy = healthy
	snapshot := h.m
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	h.mu.Unlock()

	switch {
	case reconnect:
		h.logger.Warn("connection unhealthy",
			"error", models.ErrConnectionDegraded,
			"missed_heartbeats", snapshot.MissedHeartbeats,
			"reconnect_count", snapshot.ReconnectCount,
		)
	case !wasHealthy && healthy:
		h.logger.Info("connection recovered", "latency_ms", snapshot.LatencyMs)
	}

	h.healthSubs.Publish(snapshot)
	if reconnect {
		h.reconnectSubs.Publish(struct{}{})
	}
}

// Start runs the heartbeat ticker until ctx is cancelled or Stop is
// called. Calling Start on a running Monitor is a no-op.
func (h *Monitor) Start(ctx context.Context) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	ticker := h.clock.NewTicker(h.cfg.HeartbeatInterval)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.tick(ctx)
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-flight ping to finish.
func (h *Monitor) Stop() {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.wg.Wait()
	h.cancel = nil
}

func (h *Monitor) tick(ctx context.Context) {
	if h.pinger == nil {
		h.mu.Lock()
		responded := h.responded
		h.responded = false
		h.mu.Unlock()
		if !responded {
			h.RecordMissedHeartbeat()
		}
		return
	}

	h.mu.Lock()
	if h.inFlight {
		h.mu.Unlock()
		h.logger.Debug("heartbeat still in flight, skipping tick")
		return
	}
	h.inFlight = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			h.inFlight = false
			h.mu.Unlock()
		}()

		rtt, err := h.ping(ctx)
		switch {
		case ctx.Err() != nil:
			// shutting down
		case err != nil:
			h.logger.Debug("heartbeat missed", "error", err)
			h.RecordMissedHeartbeat()
		default:
			h.RecordHeartbeat(rtt)
		}
	}()
}

// ping runs the pinger bounded by HeartbeatTimeout on the monitor's clock.
func (h *Monitor) ping(ctx context.Context) (time.Duration, error) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := h.clock.Now()
	result := make(chan error, 1)
	go func() { result <- h.pinger(pctx) }()

	select {
	case err := <-result:
		return h.clock.Now().Sub(start), err
	case <-h.clock.After(h.cfg.HeartbeatTimeout):
		return 0, errHeartbeatTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
