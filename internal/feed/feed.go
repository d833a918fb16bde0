// Package feed delivers raw Event and Session records from an upstream
// source into the engine.
package feed

import "github.com/joescharf/chronicle/internal/models"

// Sink receives records. *engine.Engine satisfies it.
type Sink interface {
	AdmitEvent(e models.Event) bool
	UpsertSession(s models.Session) error
}

// SyncResult counts what one sync pass delivered.
type SyncResult struct {
	Sessions int `json:"sessions"`
	Events   int `json:"events"`
	Admitted int `json:"admitted"`
	Rejected int `json:"rejected"`
}

func (r *SyncResult) add(o SyncResult) {
	r.Sessions += o.Sessions
	r.Events += o.Events
	r.Admitted += o.Admitted
	r.Rejected += o.Rejected
}
