package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eco-assistant/internal/models"
)

const pointKeyPrefix = "points:"

// PointCache keeps point sets in Redis so they survive restarts and are
// shared between bot instances
type PointCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewPointCache creates a point cache. A zero ttl keeps entries forever.
func NewPointCache(client redis.Cmdable, ttl time.Duration) *PointCache {
	return &PointCache{client: client, ttl: ttl}
}

// GetPoints returns the stored set and whether it was found
func (c *PointCache) GetPoints(ctx context.Context, locationKey string) (models.PointSet, bool, error) {
	raw, err := c.client.Get(ctx, pointKeyPrefix+locationKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var ps models.PointSet
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal points: %w", err)
	}
	return ps, true, nil
}

// SetPoints stores a set with the configured TTL
func (c *PointCache) SetPoints(ctx context.Context, locationKey string, ps models.PointSet) error {
	raw, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("failed to marshal points: %w", err)
	}
	if err := c.client.Set(ctx, pointKeyPrefix+locationKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
