package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// StatsCache keeps audience stats for a bounded time. It is an explicit
// dependency of Service; without one, every stats request reads the directory.
type StatsCache interface {
	// Get returns ok=false on a miss or after expiry.
	Get(ctx context.Context) (stats []domain.AudienceStat, ok bool, err error)
	Set(ctx context.Context, stats []domain.AudienceStat) error
}

// TTLStatsCache is an in-process StatsCache.
type TTLStatsCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	stats     []domain.AudienceStat
	expiresAt time.Time
}

// NewTTLStatsCache creates a cache whose entries expire after ttl.
func NewTTLStatsCache(ttl time.Duration) *TTLStatsCache {
	return &TTLStatsCache{ttl: ttl, now: time.Now}
}

// Get implements StatsCache.
func (c *TTLStatsCache) Get(_ context.Context) ([]domain.AudienceStat, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stats == nil || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	out := make([]domain.AudienceStat, len(c.stats))
	copy(out, c.stats)
	return out, true, nil
}

// Set implements StatsCache.
func (c *TTLStatsCache) Set(_ context.Context, stats []domain.AudienceStat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = make([]domain.AudienceStat, len(stats))
	copy(c.stats, stats)
	c.expiresAt = c.now().Add(c.ttl)
	return nil
}
