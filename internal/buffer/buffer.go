// Package buffer admits raw events, drops duplicates by id and keeps the
// most recent Capacity events in admission order.
package buffer

import (
	"log/slog"
	"sync"

	"github.com/joescharf/chronicle/internal/models"
)

// DefaultCapacity is the number of events retained when Config.Capacity is unset.
const DefaultCapacity = 1000

// Config controls buffer sizing.
type Config struct {
	Capacity int
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

// Stats is a point-in-time view of the buffer counters.
type Stats struct {
	Size       int    `json:"size"`
	Capacity   int    `json:"capacity"`
	Admitted   uint64 `json:"admitted"`
	Duplicates uint64 `json:"duplicates"`
	Rejected   uint64 `json:"rejected"`
	Evicted    uint64 `json:"evicted"`
	Resets     uint64 `json:"resets"`
}

// Buffer is a fixed-size FIFO of events with an id index kept in
// lockstep. The ring and the index change under one lock, so an id is
// indexed exactly when its event is retained.
type Buffer struct {
	logger *slog.Logger

	mu       sync.Mutex
	ring     []models.Event
	head     int // index of the oldest event
	size     int
	index    map[string]struct{}
	capacity int

	admitted   uint64
	duplicates uint64
	rejected   uint64
	evicted    uint64
	resets     uint64
}

// New creates a buffer. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		logger:   logger,
		ring:     make([]models.Event, cfg.Capacity),
		index:    make(map[string]struct{}, cfg.Capacity),
		capacity: cfg.Capacity,
	}
}

// Admit appends e unless it is malformed or its id is already buffered.
// When the buffer is full the oldest event is evicted and its id
// released. Returns whether e was accepted.
func (b *Buffer) Admit(e models.Event) bool {
	_, ok := b.Store(e)
	return ok
}

// Store is Admit but also returns the event as buffered, with its own
// copy of the metadata.
func (b *Buffer) Store(e models.Event) (models.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := e.Validate(); err != nil {
		b.rejected++
		b.logger.Debug("rejected event", "error", err)
		return models.Event{}, false
	}
	if _, dup := b.index[e.ID]; dup {
		b.duplicates++
		return models.Event{}, false
	}

	e.Metadata = e.Metadata.Clone()

	if b.size == b.capacity {
		oldest := b.ring[b.head]
		delete(b.index, oldest.ID)
		b.ring[b.head] = models.Event{}
		b.head = (b.head + 1) % b.capacity
		b.size--
		b.evicted++
	}

	tail := (b.head + b.size) % b.capacity
	b.ring[tail] = e
	b.size++
	b.index[e.ID] = struct{}{}
	b.admitted++

	if len(b.index) != b.size {
		b.resetLocked("index out of sync with buffer")
	}
	return e, true
}

// Contains reports whether an event with id is buffered.
func (b *Buffer) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.index[id]
	return ok
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Snapshot copies the buffered events, oldest first. Callers may iterate
// the result without holding any lock.
func (b *Buffer) Snapshot() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Event, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.head+i)%b.capacity]
	}
	return out
}

// Stats returns the current counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Size:       b.size,
		Capacity:   b.capacity,
		Admitted:   b.admitted,
		Duplicates: b.duplicates,
		Rejected:   b.rejected,
		Evicted:    b.evicted,
		Resets:     b.resets,
	}
}

// Reset drops every buffered event and index entry together.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked("")
}

// resetLocked clears ring and index. Must be called with b.mu held.
func (b *Buffer) resetLocked(reason string) {
	if reason != "" {
		b.logger.Error("resetting event buffer", "reason", reason, "size", b.size, "indexed", len(b.index))
	}
	b.ring = make([]models.Event, b.capacity)
	b.index = make(map[string]struct{}, b.capacity)
	b.head = 0
	b.size = 0
	b.resets++
}
