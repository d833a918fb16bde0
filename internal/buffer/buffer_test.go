package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/chronicle/internal/models"
)

func ev(id string) models.Event {
	return models.Event{ID: id, SessionID: "s1", Type: models.EventTypePreToolUse}
}

func ids(events []models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestAdmit_Dedup(t *testing.T) {
	b := New(DefaultConfig(), nil)

	assert.True(t, b.Admit(ev("a")))
	assert.False(t, b.Admit(ev("a")), "second admit of same id must be rejected")
	assert.Equal(t, 1, b.Len())

	st := b.Stats()
	assert.Equal(t, uint64(1), st.Admitted)
	assert.Equal(t, uint64(1), st.Duplicates)
}

func TestAdmit_DedupIdempotentForAllEvents(t *testing.T) {
	b := New(Config{Capacity: 50}, nil)
	for i := 0; i < 40; i++ {
		e := ev(fmt.Sprintf("e%d", i))
		require.True(t, b.Admit(e))
		before := b.Len()
		assert.False(t, b.Admit(e))
		assert.Equal(t, before, b.Len())
	}
}

func TestAdmit_Malformed(t *testing.T) {
	b := New(DefaultConfig(), nil)

	assert.False(t, b.Admit(models.Event{SessionID: "s1"}))
	assert.False(t, b.Admit(models.Event{ID: "x"}))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, uint64(2), b.Stats().Rejected)
}

func TestAdmit_EvictsOldest(t *testing.T) {
	b := New(Config{Capacity: 3}, nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, b.Admit(ev(id)))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"c", "d", "e"}, ids(b.Snapshot()))
	assert.False(t, b.Contains("a"))
	assert.False(t, b.Contains("b"))
	assert.True(t, b.Contains("c"))
	assert.Equal(t, uint64(2), b.Stats().Evicted)

	// Evicted ids are released from the index and can be admitted again.
	assert.True(t, b.Admit(ev("a")))
	assert.Equal(t, []string{"d", "e", "a"}, ids(b.Snapshot()))
}

func TestAdmit_BoundedMemory(t *testing.T) {
	const capacity = 25
	b := New(Config{Capacity: capacity}, nil)

	var all []string
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("e%03d", i)
		all = append(all, id)
		b.Admit(ev(id))
		assert.LessOrEqual(t, b.Len(), capacity)
	}
	assert.Equal(t, all[len(all)-capacity:], ids(b.Snapshot()))
	st := b.Stats()
	assert.Equal(t, capacity, st.Size)
	assert.Equal(t, uint64(0), st.Resets)
}

func TestDefaultCapacity(t *testing.T) {
	b := New(Config{}, nil)
	assert.Equal(t, DefaultCapacity, b.Stats().Capacity)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(DefaultConfig(), nil)
	e := ev("a")
	e.Metadata = models.Metadata{"k": "v"}
	b.Admit(e)

	// Mutating the caller's map after admission does not reach the buffer.
	e.Metadata["k"] = "changed"

	snap := b.Snapshot()
	snap[0].ID = "mutated"
	assert.Equal(t, "a", b.Snapshot()[0].ID)
	assert.Equal(t, "v", b.Snapshot()[0].Metadata["k"])
}

func TestStore(t *testing.T) {
	b := New(DefaultConfig(), nil)

	t.Run("returns buffered copy", func(t *testing.T) {
		e := ev("a")
		e.Metadata = models.Metadata{"k": "v"}
		stored, ok := b.Store(e)
		require.True(t, ok)

		e.Metadata["k"] = "changed"
		assert.Equal(t, "a", stored.ID)
		assert.Equal(t, "v", stored.Metadata["k"])
	})

	t.Run("duplicate", func(t *testing.T) {
		stored, ok := b.Store(ev("a"))
		assert.False(t, ok)
		assert.Empty(t, stored.ID)
	})

	t.Run("malformed", func(t *testing.T) {
		_, ok := b.Store(models.Event{ID: "x"})
		assert.False(t, ok)
	})
}

func TestReset(t *testing.T) {
	b := New(Config{Capacity: 2}, nil)
	b.Admit(ev("a"))
	b.Admit(ev("b"))
	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Contains("a"))
	assert.True(t, b.Admit(ev("a")))
	assert.Equal(t, uint64(1), b.Stats().Resets)
}

func TestConcurrentAdmit(t *testing.T) {
	b := New(Config{Capacity: 100}, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				// Half the ids collide across workers.
				b.Admit(ev(fmt.Sprintf("e%d", (w%2)*1000+i)))
			}
		}(w)
	}
	wg.Wait()

	st := b.Stats()
	assert.Equal(t, 100, st.Size)
	assert.Equal(t, uint64(0), st.Resets)
	snap := b.Snapshot()
	seen := map[string]bool{}
	for _, e := range snap {
		assert.False(t, seen[e.ID], "duplicate id %s in buffer", e.ID)
		seen[e.ID] = true
	}
}
