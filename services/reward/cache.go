package reward

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"boutique-loyalty/pkg/rediskey"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "reward_catalog_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "reward_catalog_cache_miss_total"})
)

var catalogKey = rediskey.BuildRewardCatalogKey()

// CatalogCache caches the active reward catalog: a short-TTL in-process copy,
// optionally backed by redis so instances share invalidations. Loads collapse
// through singleflight.
type CatalogCache struct {
	mu    sync.RWMutex
	items []*Reward
	at    time.Time
	ttl   time.Duration
	rdb   *redis.Client
	group singleflight.Group
}

func NewCatalogCache(rdb *redis.Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CatalogCache{ttl: ttl, rdb: rdb}
}

// Load returns the cached catalog, falling back to loader on a miss.
func (c *CatalogCache) Load(ctx context.Context, loader func(ctx context.Context) ([]*Reward, error)) ([]*Reward, error) {
	c.mu.RLock()
	items, at := c.items, c.at
	c.mu.RUnlock()
	if items != nil && time.Since(at) <= c.ttl {
		cacheHits.Inc()
		return items, nil
	}

	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, catalogKey).Bytes(); err == nil {
			var rewards []*Reward
			if err := json.Unmarshal(raw, &rewards); err == nil {
				cacheHits.Inc()
				c.store(rewards)
				return rewards, nil
			}
		}
	}

	cacheMiss.Inc()
	v, err, _ := c.group.Do(catalogKey, func() (any, error) {
		rewards, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		c.store(rewards)
		if c.rdb != nil {
			if raw, err := json.Marshal(rewards); err == nil {
				if err := c.rdb.Set(ctx, catalogKey, raw, c.ttl).Err(); err != nil {
					zap.L().Warn("failed to cache reward catalog", zap.Error(err))
				}
			}
		}
		return rewards, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Reward), nil
}

// Invalidate drops both cache tiers; admin writes and redemptions that change
// stock call it.
func (c *CatalogCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, catalogKey).Err(); err != nil {
			zap.L().Warn("failed to invalidate reward catalog cache", zap.Error(err))
		}
	}
}

func (c *CatalogCache) store(rewards []*Reward) {
	c.mu.Lock()
	c.items = rewards
	c.at = time.Now()
	c.mu.Unlock()
}
