package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/chronicle/internal/engine"
	"github.com/joescharf/chronicle/internal/models"
)

// streamBuffer is how many messages a slow client may fall behind
// before messages are dropped for it.
const streamBuffer = 64

type streamMessage struct {
	event string
	data  any
}

// stream serves batches, status changes and health updates as
// Server-Sent Events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if !s.streams.TryAcquire(1) {
		writeError(w, http.StatusServiceUnavailable, "too many streams")
		return
	}
	defer s.streams.Release(1)

	clientID := uuid.NewString()
	msgs := make(chan streamMessage, streamBuffer)
	var dropped atomic.Int64
	send := func(m streamMessage) {
		select {
		case msgs <- m:
		default:
			dropped.Add(1)
		}
	}

	unsubs := []func(){
		s.engine.SubscribeBatches(func(b models.EventBatch) {
			send(streamMessage{event: "batch", data: b})
		}),
		s.engine.SubscribeStatus(func(id string, rec models.SessionStatusRecord) {
			send(streamMessage{event: "status", data: engine.StatusChange{SessionID: id, Record: rec}})
		}),
		s.engine.SubscribeHealth(func(m models.ConnectionHealthMetrics) {
			send(streamMessage{event: "health", data: m})
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		s.logger.Debug("stream closed", "client_id", clientID, "dropped", dropped.Load())
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected %s\n\n", clientID)
	flusher.Flush()
	s.logger.Debug("stream opened", "client_id", clientID)

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case m := <-msgs:
			data, err := json.Marshal(m.data)
			if err != nil {
				s.logger.Warn("encode stream message", "client_id", clientID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
