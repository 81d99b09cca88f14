// Package ratelimit provides request budgets for upstream APIs that are
// shared between bot instances through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultLimit  = 10000          // Overpass asks for fewer than 10k queries a day
	DefaultWindow = 24 * time.Hour // windows are aligned to UTC
)

// KeyPrefix is the Redis key prefix for budget counters.
const KeyPrefix = "budget:"

// consumeScript atomically checks the window counter and increments it.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local n = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + n > limit then
		return {0, used}
	end

	redis.call('INCRBY', key, n)
	redis.call('EXPIRE', key, ttl)
	return {1, used + n}
`)

// BudgetTracker counts requests to one upstream in fixed windows.
type BudgetTracker struct {
	redis  redis.Cmdable
	name   string
	limit  int
	window time.Duration
	keyTTL time.Duration
	now    func() time.Time
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	// Redis is the shared counter store. Required.
	Redis redis.Cmdable

	// Name identifies the upstream, e.g. "overpass". Required.
	Name string

	// Limit is the number of requests allowed per window. Default: 10000.
	Limit int

	// Window is the budget period. Default: 24h.
	Window time.Duration
}

// UsageStats contains consumption for the current window.
type UsageStats struct {
	Name        string    `json:"name"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Name == "" {
		return errors.New("budget name is required")
	}
	if c.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewBudgetTracker creates a new tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}

	return &BudgetTracker{
		redis:  cfg.Redis,
		name:   cfg.Name,
		limit:  limit,
		window: window,
		// keep the counter a little past the window end
		keyTTL: window + time.Minute,
		now:    time.Now,
	}, nil
}

func (t *BudgetTracker) windowStart() time.Time {
	return t.now().UTC().Truncate(t.window)
}

func (t *BudgetTracker) key(start time.Time) string {
	return KeyPrefix + t.name + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// TryConsume takes n requests from the current window. When the budget is
// exhausted it returns false and the time until the next window opens.
func (t *BudgetTracker) TryConsume(ctx context.Context, n int) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := t.windowStart()
	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{t.key(start)},
		n, t.limit, ttlSeconds).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("budget %s: %w", t.name, err)
	}

	if result[0] != 1 {
		return false, t.untilNextWindow(start), nil
	}
	return true, 0, nil
}

func (t *BudgetTracker) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(t.window).Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Usage returns consumption for the current window.
func (t *BudgetTracker) Usage(ctx context.Context) (*UsageStats, error) {
	start := t.windowStart()
	used, err := t.redis.Get(ctx, t.key(start)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("budget %s: %w", t.name, err)
	}

	return &UsageStats{
		Name:        t.name,
		Used:        used,
		Limit:       t.limit,
		WindowStart: start,
	}, nil
}

// Remaining returns how many requests are left in the current window.
func (t *BudgetTracker) Remaining(ctx context.Context) (int, error) {
	stats, err := t.Usage(ctx)
	if err != nil {
		return 0, err
	}
	remaining := t.limit - stats.Used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
