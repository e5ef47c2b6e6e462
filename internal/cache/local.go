package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type localCache struct {
	cache *gocache.Cache
}

// NewLocal creates an in-process cache backed by go-cache
func NewLocal(defaultTTL, cleanupInterval time.Duration) Cache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &localCache{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (c *localCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, found := c.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (c *localCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.cache.Set(key, value, expiration(ttl))
	return nil
}

func (c *localCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	// Add fails when an unexpired item exists
	if err := c.cache.Add(key, value, expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (c *localCache) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

func (c *localCache) Close() error {
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.DefaultExpiration
	}
	return ttl
}
