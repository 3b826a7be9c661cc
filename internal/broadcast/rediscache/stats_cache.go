// Package rediscache provides a Redis-backed audience stats cache shared by
// every replica of the service.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the cached stats.
const DefaultKey = "pushgarden:audience-stats"

// StatsCache stores audience stats as JSON under a single key with a TTL.
type StatsCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

var _ broadcast.StatsCache = (*StatsCache)(nil)

// NewStatsCache creates a cache. An empty key uses DefaultKey.
func NewStatsCache(rdb *redis.Client, key string, ttl time.Duration) *StatsCache {
	if key == "" {
		key = DefaultKey
	}
	return &StatsCache{rdb: rdb, key: key, ttl: ttl}
}

type statValue struct {
	Audience string `json:"audience"`
	Total    int    `json:"total"`
	WithPush int    `json:"withPush"`
}

// Get returns the cached stats. The second result is false on a miss.
func (c *StatsCache) Get(ctx context.Context) ([]domain.AudienceStat, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get audience stats: %w", err)
	}

	var values []statValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false, fmt.Errorf("decode audience stats: %w", err)
	}

	stats := make([]domain.AudienceStat, 0, len(values))
	for _, v := range values {
		stats = append(stats, domain.AudienceStat{
			Audience: domain.AudienceKind(v.Audience),
			Total:    v.Total,
			WithPush: v.WithPush,
		})
	}
	return stats, true, nil
}

// Set stores stats for the configured TTL.
func (c *StatsCache) Set(ctx context.Context, stats []domain.AudienceStat) error {
	values := make([]statValue, 0, len(stats))
	for _, s := range stats {
		values = append(values, statValue{
			Audience: string(s.Audience),
			Total:    s.Total,
			WithPush: s.WithPush,
		})
	}

	b, err := json.Marshal(values)
	if err != nil {
		return err
	}

	if err := c.rdb.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("set audience stats: %w", err)
	}
	return nil
}
