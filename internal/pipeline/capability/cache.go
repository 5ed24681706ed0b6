package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"infra-wizard/internal/common/database"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/models"
)

// Cache keeps fetched capability facts in Redis for the session TTL so
// repeated sessions in the same region do not hammer the provider API.
// A nil client disables caching entirely.
type Cache struct {
	redis *database.RedisClient
	ttl   time.Duration
	log   logger.Logger
}

func NewCache(redis *database.RedisClient, ttl time.Duration, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Cache{redis: redis, ttl: ttl, log: log}
}

func cacheKey(provider, region string, kind models.ResourceKind) string {
	return fmt.Sprintf("capability:%s:%s:%s", provider, region, kind)
}

// Get returns the cached fact for (provider, region, kind), or nil on miss.
// Cache errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, provider, region string, kind models.ResourceKind) *models.CapabilityFact {
	if c == nil || c.redis == nil {
		return nil
	}
	raw, err := c.redis.Get(ctx, cacheKey(provider, region, kind))
	if err != nil {
		return nil
	}
	var fact models.CapabilityFact
	if err := json.Unmarshal([]byte(raw), &fact); err != nil {
		c.log.Warn("Discarding undecodable cached capability fact", map[string]interface{}{
			"key":   cacheKey(provider, region, kind),
			"error": err.Error(),
		})
		return nil
	}
	return &fact
}

// Put stores a freshly fetched fact. Stale snapshot fallbacks are never
// cached so a recovered provider is consulted again next session.
func (c *Cache) Put(ctx context.Context, fact *models.CapabilityFact) {
	if c == nil || c.redis == nil || fact == nil || fact.Stale {
		return
	}
	raw, err := json.Marshal(fact)
	if err != nil {
		return
	}
	key := cacheKey(fact.Provider, fact.Region, fact.Kind)
	if err := c.redis.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.log.Warn("Failed to cache capability fact", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}
