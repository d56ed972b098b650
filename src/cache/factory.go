package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// Factory hands each session its own cache store.
type Factory func(sessionID string) models.CacheStore

// Purger is implemented by stores that can drop a whole session namespace.
type Purger interface {
	Purge(ctx context.Context) error
}

// Expirer is implemented by backends whose expired entries stay on disk
// until purged.
type Expirer interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Backend is the shared state behind a Factory.
type Backend struct {
	Name  string
	New   Factory
	Close func() error

	// Expirer is nil unless expired entries need purging.
	Expirer Expirer
	// Stats is nil when the backend keeps no hit counters.
	Stats func() (hits, misses int64)
}

// NewFactory builds the configured backend.
func NewFactory(cfg *config.CacheConfig, client *redis.Client) (*Backend, error) {
	switch cfg.Backend {
	case "memory":
		capacity := cfg.Capacity
		return &Backend{
			Name: cfg.Backend,
			New: func(string) models.CacheStore {
				return NewMemoryCache(capacity)
			},
			Close: func() error { return nil },
		}, nil

	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis cache backend needs a redis client")
		}
		rc := NewRedisCache(client, cfg.TTL)
		return &Backend{Name: cfg.Backend, New: rc.Namespace, Close: rc.Close}, nil

	case "sqlite":
		sc, err := NewSQLiteCache(cfg.SQLitePath, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:    cfg.Backend,
			New:     sc.Namespace,
			Close:   sc.Close,
			Expirer: sc,
			Stats:   sc.Stats,
		}, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
