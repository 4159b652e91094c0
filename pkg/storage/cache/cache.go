// Package cache wraps storage repositories with in-memory LRU caches.
//
// Only user display data is cached. Memberships, workspaces and API keys are
// always read from the backing store so that removals, disables and
// revocations take effect on the next request.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

const cacheType = "user"

// Stats holds cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int64   `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// CachedUserRepository caches GetUser results with a TTL
type CachedUserRepository struct {
	next    storage.UserRepository
	cache   *lru.LRU[string, auth.User]
	metrics *observability.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ storage.UserRepository = (*CachedUserRepository)(nil)

// NewCachedUserRepository wraps next with an LRU of at most size entries
func NewCachedUserRepository(next storage.UserRepository, size int, ttl time.Duration, metrics *observability.Metrics) *CachedUserRepository {
	if size < 10 {
		size = 10 // Minimum 10 entries
	}
	return &CachedUserRepository{
		next:    next,
		cache:   lru.NewLRU[string, auth.User](size, nil, ttl),
		metrics: metrics,
	}
}

// GetUser returns a copy of the cached user, loading it on a miss. Lookup
// failures, including ErrNotFound, are never cached.
func (c *CachedUserRepository) GetUser(ctx context.Context, id string) (*auth.User, error) {
	if u, ok := c.cache.Get(id); ok {
		c.hits.Add(1)
		c.metrics.RecordCacheLookup(cacheType, true)
		return &u, nil
	}
	c.misses.Add(1)
	c.metrics.RecordCacheLookup(cacheType, false)

	u, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *u)
	return u, nil
}

// CreateUser writes through and drops any stale entry
func (c *CachedUserRepository) CreateUser(ctx context.Context, user *auth.User) error {
	if err := c.next.CreateUser(ctx, user); err != nil {
		return err
	}
	c.cache.Remove(user.ID)
	return nil
}

// Invalidate removes a single user from the cache
func (c *CachedUserRepository) Invalidate(id string) {
	c.cache.Remove(id)
}

// Stats returns cache statistics
func (c *CachedUserRepository) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Purge empties the cache
func (c *CachedUserRepository) Purge() {
	c.cache.Purge()
}
