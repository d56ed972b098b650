package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/throttle"
)

var ErrNotFound = errors.New("session not found")

// Registry owns every live session of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	throttle throttle.Config
	newCache func(sessionID string) models.CacheStore
	idleTTL  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIdleTTL sets how long an untouched session survives a Sweep.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) { r.idleTTL = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(th throttle.Config, newCache func(sessionID string) models.CacheStore, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		throttle: th,
		newCache: newCache,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a fresh session with its own throttle and cache.
func (r *Registry) Create() *Session {
	id := "sess_" + uuid.New().String()
	s := New(id, r.now(), r.throttle, r.newCache(id))

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Debug("session created", zap.String("session", id))
	return s
}

// Get returns the session and marks it active.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch(r.now())
	return s, nil
}

// GetOrCreate returns the session for id, or a new one when id is empty or
// unknown.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		if s, err := r.Get(id); err == nil {
			return s, false
		}
	}
	return r.Create(), true
}

// Delete removes the session and releases its cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.release(ctx, s)
	return nil
}

// List returns session stats ordered by creation time.
func (r *Registry) List() []*models.SessionStats {
	r.mu.RLock()
	out := make([]*models.SessionStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the idle TTL and returns how many
// were removed.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.release(ctx, s)
	}
	if len(expired) > 0 {
		r.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

type purger interface {
	Purge(ctx context.Context) error
}

func (r *Registry) release(ctx context.Context, s *Session) {
	if s.Cache == nil {
		return
	}
	if p, ok := s.Cache.(purger); ok {
		if err := p.Purge(ctx); err != nil {
			r.logger.Warn("failed to purge session cache", zap.String("session", s.ID), zap.Error(err))
		}
	}
	if err := s.Cache.Close(); err != nil {
		r.logger.Warn("failed to close session cache", zap.String("session", s.ID), zap.Error(err))
	}
}
