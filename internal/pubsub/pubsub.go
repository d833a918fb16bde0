// Package pubsub fans values out to registered subscriber callbacks.
package pubsub

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds subscribers for one kind of value. A panicking
// subscriber is logged and skipped; the others still receive the value.
type Registry[T any] struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// New returns an empty registry. name appears in log lines.
func New[T any](name string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		name:   name,
		logger: logger,
		subs:   make(map[uint64]func(T)),
	}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is idempotent.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Publish calls every subscriber in registration order. It returns the
// number of subscribers that failed.
func (r *Registry[T]) Publish(v T) int {
	r.mu.RLock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.subs[id])
	}
	r.mu.RUnlock()

	failed := 0
	for _, fn := range fns {
		if err := r.call(fn, v); err != nil {
			failed++
			r.logger.Error("subscriber failed", "registry", r.name, "error", err)
		}
	}
	return failed
}

func (r *Registry[T]) call(fn func(T), v T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	fn(v)
	return nil
}
