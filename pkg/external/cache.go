package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/clinical-trial-matcher/internal/domain"
)

// MemoryRuleCache keeps rule documents in a size-bounded LRU with per-entry expiry.
type MemoryRuleCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryRuleCache creates an in-process cache. A zero ttl keeps entries until evicted.
func NewMemoryRuleCache(size int, ttl time.Duration) *MemoryRuleCache {
	if size <= 0 {
		size = 128
	}
	return &MemoryRuleCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get implements domain.RuleCache.
func (c *MemoryRuleCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, ok := c.lru.Get(key)
	return raw, ok, nil
}

// Set implements domain.RuleCache.
func (c *MemoryRuleCache) Set(_ context.Context, key string, raw []byte) error {
	c.lru.Add(key, append([]byte(nil), raw...))
	return nil
}

// Len returns the number of cached documents.
func (c *MemoryRuleCache) Len() int {
	return c.lru.Len()
}

// RedisRuleCache shares rule documents between processes through Redis.
type RedisRuleCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisRuleCache connects to Redis and verifies the connection
func NewRedisRuleCache(config domain.CacheConfig) (*RedisRuleCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRuleCache{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// Get implements domain.RuleCache.
func (c *RedisRuleCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached rules: %w", err)
	}
	return raw, true, nil
}

// Set implements domain.RuleCache.
func (c *RedisRuleCache) Set(ctx context.Context, key string, raw []byte) error {
	if err := c.redis.Set(ctx, key, raw, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache rules: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisRuleCache) Close() error {
	return c.redis.Close()
}

// LayeredRuleCache consults caches in order and back-fills the faster layers on a hit
// in a slower one.
type LayeredRuleCache struct {
	layers []domain.RuleCache
}

// NewLayeredRuleCache creates a cache over layers, fastest first. Nil layers are skipped.
func NewLayeredRuleCache(layers ...domain.RuleCache) *LayeredRuleCache {
	c := &LayeredRuleCache{}
	for _, l := range layers {
		if l != nil {
			c.layers = append(c.layers, l)
		}
	}
	return c
}

// Get implements domain.RuleCache. A failing layer is skipped; the last error is
// returned only when no layer has the key.
func (c *LayeredRuleCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var lastErr error
	for i, layer := range c.layers {
		raw, found, err := layer.Get(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			for _, faster := range c.layers[:i] {
				_ = faster.Set(ctx, key, raw)
			}
			return raw, true, nil
		}
	}
	return nil, false, lastErr
}

// Set implements domain.RuleCache.
func (c *LayeredRuleCache) Set(ctx context.Context, key string, raw []byte) error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Set(ctx, key, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
