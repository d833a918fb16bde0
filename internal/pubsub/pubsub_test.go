package pubsub

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishOrder(t *testing.T) {
	r := New[int]("test", nil)
	var got []string
	r.Subscribe(func(v int) { got = append(got, "a") })
	r.Subscribe(func(v int) { got = append(got, "b") })

	assert.Equal(t, 0, r.Publish(1))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestUnsubscribe(t *testing.T) {
	r := New[string]("test", nil)
	calls := 0
	unsub := r.Subscribe(func(string) { calls++ })
	assert.Equal(t, 1, r.Len())

	unsub()
	unsub() // idempotent
	assert.Equal(t, 0, r.Len())

	r.Publish("x")
	assert.Equal(t, 0, calls)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	r := New[int]("batches", logger)

	var got []int
	r.Subscribe(func(int) { panic("boom") })
	r.Subscribe(func(v int) { got = append(got, v) })

	failed := r.Publish(7)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []int{7}, got)
	assert.Contains(t, logs.String(), "subscriber failed")
	assert.Contains(t, logs.String(), "boom")
	assert.Contains(t, logs.String(), "registry=batches")
}
