package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

const redisKeyPrefix = "tutor_cache:"

// RedisCache stores completions with a fixed TTL. One client is shared by
// every session; Namespace hands out per-session views.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisClient connects and pings the configured redis server.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}

	return client, nil
}

// NewRedisCache wraps an existing client. The cache does not close it.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: redisKeyPrefix,
	}
}

// Namespace returns a view whose keys are scoped to sessionID.
func (c *RedisCache) Namespace(sessionID string) models.CacheStore {
	return &RedisCache{
		client: c.client,
		ttl:    c.ttl,
		prefix: c.prefix + sessionID + ":",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.Completion, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var completion models.Completion
	if err := json.Unmarshal([]byte(val), &completion); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return &completion, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, completion *models.Completion) error {
	data, err := json.Marshal(completion)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// Purge drops every key of this namespace.
func (c *RedisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Close is a no-op; the client belongs to whoever created it.
func (c *RedisCache) Close() error {
	return nil
}
