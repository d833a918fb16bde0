// Package batch groups admitted events into time-windowed or
// burst-triggered batches and hands them to subscribers in order.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/pubsub"
)

const (
	DefaultWindow         = 100 * time.Millisecond
	DefaultBurstThreshold = 10
	DefaultMaxBatchSize   = 50
)

// Config controls batching. A batch is flushed when the window ticks,
// when it holds more than BurstThreshold events, or before it would
// grow past MaxBatchSize.
type Config struct {
	Window         time.Duration
	BurstThreshold int
	MaxBatchSize   int
}

// DefaultConfig returns the default batching configuration.
func DefaultConfig() Config {
	return Config{
		Window:         DefaultWindow,
		BurstThreshold: DefaultBurstThreshold,
		MaxBatchSize:   DefaultMaxBatchSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = d.BurstThreshold
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	return c
}

// Stats counts emitted batches per reason.
type Stats struct {
	Pending         int                           `json:"pending"`
	Batches         uint64                        `json:"batches"`
	EventsDelivered uint64                        `json:"eventsDelivered"`
	ByReason        map[models.BatchReason]uint64 `json:"byReason"`
}

// Batcher accumulates events into a pending batch. Enqueue is safe for
// concurrent use; events keep the order in which Enqueue acquired the
// lock. Deliveries are serialized, so subscribers observe batches in
// emission order. Subscribers must not call Enqueue or Flush.
type Batcher struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	subs   *pubsub.Registry[models.EventBatch]

	mu       sync.Mutex
	pending  []models.Event
	seq      uint64
	batches  uint64
	events   uint64
	byReason map[models.BatchReason]uint64

	// deliverMu is taken before mu is released so deliveries can't overtake each other.
	deliverMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Batcher. Nil clock or logger fall back to the real clock
// and slog.Default().
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Batcher {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		subs:     pubsub.New[models.EventBatch]("batch", logger),
		pending:  make([]models.Event, 0, cfg.MaxBatchSize),
		byReason: make(map[models.BatchReason]uint64),
	}
}

// Config returns the effective configuration.
func (b *Batcher) Config() Config { return b.cfg }

// Subscribe registers fn for every emitted batch and returns an unsubscribe func.
func (b *Batcher) Subscribe(fn func(models.EventBatch)) func() {
	return b.subs.Subscribe(fn)
}

// Enqueue adds e to the pending batch, flushing first if the batch is
// full and afterwards if it crossed the burst threshold.
func (b *Batcher) Enqueue(e models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) >= b.cfg.MaxBatchSize {
		b.emitLocked(models.BatchReasonBurstFlush)
	}
	b.pending = append(b.pending, e)
	if len(b.pending) > b.cfg.BurstThreshold {
		b.emitLocked(models.BatchReasonBurstFlush)
	}
}

// Flush emits the pending batch immediately. It is a no-op when nothing
// is pending and reports whether a batch was emitted.
func (b *Batcher) Flush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitLocked(models.BatchReasonManualFlush)
}

// tick handles one window expiry.
func (b *Batcher) tick() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitLocked(models.BatchReasonWindowExpired)
}

// emitLocked swaps out the pending batch and delivers it. Must be called
// with b.mu held; b.mu is released during delivery and re-acquired
// before returning.
func (b *Batcher) emitLocked(reason models.BatchReason) bool {
	if len(b.pending) == 0 {
		return false
	}

	b.seq++
	batch := models.EventBatch{
		ID:        uuid.NewString(),
		Seq:       b.seq,
		Events:    b.pending,
		CreatedAt: b.clock.Now(),
		Reason:    reason,
	}
	b.pending = make([]models.Event, 0, b.cfg.MaxBatchSize)
	b.batches++
	b.events += uint64(len(batch.Events))
	b.byReason[reason]++

	b.deliverMu.Lock()
	b.mu.Unlock()
	if failed := b.subs.Publish(batch); failed > 0 {
		b.logger.Warn("batch delivery incomplete", "batch_id", batch.ID, "failed_subscribers", failed)
	}
	b.deliverMu.Unlock()
	b.mu.Lock()
	return true
}

// Stats returns emission counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	byReason := make(map[models.BatchReason]uint64, len(b.byReason))
	for k, v := range b.byReason {
		byReason[k] = v
	}
	return Stats{
		Pending:         len(b.pending),
		Batches:         b.batches,
		EventsDelivered: b.events,
		ByReason:        byReason,
	}
}

// Start runs the window ticker until ctx is cancelled or Stop is called.
// Calling Start on a running Batcher is a no-op.
func (b *Batcher) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.cancel != nil {
		return
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	ticker := b.clock.NewTicker(b.cfg.Window)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.tick()
			}
		}
	}(b.done)
}

// Stop halts the ticker and flushes whatever is pending.
func (b *Batcher) Stop() {
	b.runMu.Lock()
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
	b.runMu.Unlock()
	b.Flush()
}
