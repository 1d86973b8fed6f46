package ratecache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cache stores the last successfully fetched market rate per source code.
// The rate resolver falls back to it when the live feed is unreachable.
type Cache interface {
	Get(ctx context.Context, sourceCode string) (decimal.Decimal, bool)
	Set(ctx context.Context, sourceCode string, rate decimal.Decimal)
}

const redisKeyPrefix = "ratecache"

// RedisCache keeps last-good rates in redis so restarts and replicas share
// them. Lookup failures degrade to a miss, never an error.
type RedisCache struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, sourceCode string) (decimal.Decimal, bool) {
	val, err := c.redis.Get(ctx, redisKey(sourceCode)).Result()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("redis rate cache lookup failed", zap.Error(err))
		}
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(val)
	if err != nil {
		zap.L().Warn("redis rate cache held malformed rate", zap.String("value", val))
		return decimal.Zero, false
	}
	return rate, true
}

func (c *RedisCache) Set(ctx context.Context, sourceCode string, rate decimal.Decimal) {
	if err := c.redis.Set(ctx, redisKey(sourceCode), rate.String(), c.ttl).Err(); err != nil {
		zap.L().Warn("redis rate cache store failed", zap.Error(err))
	}
}

func redisKey(sourceCode string) string {
	return redisKeyPrefix + ":" + sourceCode
}

// MemoryCache is a process-local Cache used in tests and as a standby when
// redis is not configured.
type MemoryCache struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{rates: make(map[string]decimal.Decimal)}
}

func (c *MemoryCache) Get(ctx context.Context, sourceCode string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate, ok := c.rates[sourceCode]
	return rate, ok
}

func (c *MemoryCache) Set(ctx context.Context, sourceCode string, rate decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[sourceCode] = rate
}
