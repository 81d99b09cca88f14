package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eco-assistant/internal/config"
)

// Redis serves point sets and the Overpass budget counter. Both are single
// round trips on the request path, so timeouts are short and a slow Redis
// degrades to the in-process tier instead of stalling chat replies.
const (
	defaultRedisPoolSize = 8
	redisOpTimeout       = 500 * time.Millisecond
)

// RedisCache is the shared Redis connection
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies it answers
func NewRedisCache(ctx context.Context, cfg *config.RedisConfig) (*RedisCache, error) {
	poolSize := cfg.MaxConnections
	if poolSize <= 0 {
		poolSize = defaultRedisPoolSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
		// one retry only; a miss falls through to Overpass anyway
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
		PoolTimeout:  time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis at %s:%s is not answering: %w", cfg.Host, cfg.Port, err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the connection pool
func (r *RedisCache) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Client returns the client shared by the point cache and the budget tracker
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
