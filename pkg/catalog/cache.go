package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/cardfolio/backoffice/pkg/observability"
)

// Cache tiers, used as metric labels
const (
	tierLocal = "local"
	tierRedis = "redis"
)

// CacheConfig tunes the two cache tiers
type CacheConfig struct {
	LocalSize int
	LocalTTL  time.Duration
	RedisTTL  time.Duration
}

// DefaultCacheConfig keeps the local tier small and short-lived so price
// updates propagate within a minute while Redis absorbs the bulk of the
// read load.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LocalSize: 1024,
		LocalTTL:  time.Minute,
		RedisTTL:  15 * time.Minute,
	}
}

// Cache is a read-through card cache. The Redis client is optional; with
// a nil client the cache degrades to local-only.
type Cache struct {
	source  Source
	local   *lru.LRU[string, *Card]
	redis   *redis.Client
	cfg     CacheConfig
	log     *logrus.Entry
	metrics *observability.Metrics
}

func NewCache(source Source, redisClient *redis.Client, cfg CacheConfig, log *logrus.Logger, metrics *observability.Metrics) *Cache {
	if log == nil {
		log = logrus.New()
	}
	if cfg.LocalSize <= 0 {
		cfg = DefaultCacheConfig()
	}
	return &Cache{
		source:  source,
		local:   lru.NewLRU[string, *Card](cfg.LocalSize, nil, cfg.LocalTTL),
		redis:   redisClient,
		cfg:     cfg,
		log:     log.WithField("component", "catalog-cache"),
		metrics: metrics,
	}
}

// GetCard resolves a card through local cache, then Redis, then the
// source, backfilling each missed tier on the way out. Cache failures
// only log; the source remains authoritative.
func (c *Cache) GetCard(ctx context.Context, id string) (*Card, error) {
	if card, ok := c.local.Get(id); ok {
		c.hit(tierLocal)
		return card, nil
	}
	c.miss(tierLocal)

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, redisKey(id)).Result()
		if err == nil {
			var card Card
			if uerr := json.Unmarshal([]byte(cached), &card); uerr == nil {
				c.hit(tierRedis)
				c.local.Add(id, &card)
				return &card, nil
			} else {
				c.log.WithError(uerr).WithField("card", id).Warn("discarding corrupt cache entry")
			}
		} else if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("redis read failed, falling through to source")
		}
		c.miss(tierRedis)
	}

	card, err := c.source.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}

	c.local.Add(id, card)
	if c.redis != nil {
		if data, err := json.Marshal(card); err == nil {
			if err := c.redis.Set(ctx, redisKey(id), data, c.cfg.RedisTTL).Err(); err != nil {
				c.log.WithError(err).Warn("redis backfill failed")
			}
		}
	}
	return card, nil
}

// Invalidate evicts a card from both tiers, for use after a price import
// touches it.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	c.local.Remove(id)
	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKey(id)).Err(); err != nil {
			return fmt.Errorf("failed to invalidate card %s: %w", id, err)
		}
	}
	return nil
}

func (c *Cache) hit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *Cache) miss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

func redisKey(id string) string {
	return "catalog:card:" + id
}
