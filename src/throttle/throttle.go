// Package throttle implements the local, network-free rate limit applied to
// every session before a dispatch may reach a generation service.
package throttle

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the two throttle knobs. Zero disables the respective check.
type Config struct {
	Cooldown time.Duration
	MaxCalls int
}

// Decision is the outcome of a throttle check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// State tracks one session's dispatch history. Safe for concurrent use, but
// callers that need Check+Accept to be atomic must hold their own lock around
// both (the dispatcher holds the session lock).
type State struct {
	cfg Config

	mu           sync.Mutex
	lastAccepted time.Time
	count        int
}

func New(cfg Config) *State {
	return &State{cfg: cfg}
}

// Check is a pure decision: it never mutates state.
func (s *State) Check(now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxCalls > 0 && s.count >= s.cfg.MaxCalls {
		return Decision{
			Reason: fmt.Sprintf("session reached its limit of %d requests", s.cfg.MaxCalls),
		}
	}

	if s.cfg.Cooldown > 0 && !s.lastAccepted.IsZero() {
		elapsed := now.Sub(s.lastAccepted)
		if elapsed < s.cfg.Cooldown {
			wait := s.cfg.Cooldown - elapsed
			return Decision{
				Reason:     fmt.Sprintf("please wait %s before asking again", wait.Round(100*time.Millisecond)),
				RetryAfter: wait,
			}
		}
	}

	return Decision{Allowed: true}
}

// Accept stamps now as the time of the last accepted call.
func (s *State) Accept(now time.Time) {
	s.mu.Lock()
	s.lastAccepted = now
	s.mu.Unlock()
}

// Record counts one billable call toward the soft ceiling.
func (s *State) Record() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
}

// Snapshot returns the last accepted time and the billable call count.
func (s *State) Snapshot() (lastAccepted time.Time, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccepted, s.count
}

func (s *State) MaxCalls() int {
	return s.cfg.MaxCalls
}
