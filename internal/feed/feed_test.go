package feed

import (
	"sync"

	"github.com/joescharf/chronicle/internal/models"
)

// recordingSink captures delivered records and dedups events by id.
type recordingSink struct {
	mu       sync.Mutex
	events   []models.Event
	sessions []models.Session
	seen     map[string]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: map[string]bool{}}
}

func (s *recordingSink) AdmitEvent(e models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Validate() != nil || s.seen[e.ID] {
		return false
	}
	s.seen[e.ID] = true
	s.events = append(s.events, e)
	return true
}

func (s *recordingSink) UpsertSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := sess.Validate(); err != nil {
		return err
	}
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *recordingSink) eventIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, e := range s.events {
		ids = append(ids, e.ID)
	}
	return ids
}

func (s *recordingSink) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
