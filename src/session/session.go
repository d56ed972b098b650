// Package session holds per-session dispatch state: the throttle, the
// completion cache and the lock that serializes dispatches.
package session

import (
	"sync"
	"time"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/throttle"
)

type Session struct {
	ID        string
	CreatedAt time.Time

	// mu serializes whole dispatches so two concurrent calls can never both
	// pass the throttle check.
	mu sync.Mutex

	Throttle *throttle.State
	Cache    models.CacheStore

	seenMu   sync.Mutex
	lastSeen time.Time
}

// New builds a standalone session. Most callers go through a Registry.
func New(id string, now time.Time, th throttle.Config, cache models.CacheStore) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		Throttle:  throttle.New(th),
		Cache:     cache,
		lastSeen:  now,
	}
}

// Lock acquires the dispatch lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the dispatch lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch marks the session as active.
func (s *Session) Touch(now time.Time) {
	s.seenMu.Lock()
	s.lastSeen = now
	s.seenMu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return s.lastSeen
}

// Stats returns a read-only view for API responses.
func (s *Session) Stats() *models.SessionStats {
	last, count := s.Throttle.Snapshot()
	return &models.SessionStats{
		SessionID:    s.ID,
		CreatedAt:    s.CreatedAt,
		LastSeen:     s.LastSeen(),
		Calls:        count,
		MaxCalls:     s.Throttle.MaxCalls(),
		LastAccepted: last,
	}
}
