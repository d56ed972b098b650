package chat

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// NewStore builds the configured transcript backend.
func NewStore(cfg *config.TranscriptConfig, client *redis.Client) (models.TranscriptStore, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(cfg.MaxMessages), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis transcript backend needs a redis client")
		}
		return NewRedisStore(client, cfg.TTL, cfg.MaxMessages), nil
	default:
		return nil, fmt.Errorf("unknown transcript backend %q", cfg.Backend)
	}
}
