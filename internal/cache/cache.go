package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache is a byte-oriented key/value store with expiry
type Cache interface {
	// Get returns the value and whether it was found
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a cache backend
type Config struct {
	Type            string
	RedisURL        string
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// New creates the cache selected by cfg.Type
func New(cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		return NewLocal(cfg.DefaultTTL, cfg.CleanupInterval), nil
	case "redis":
		return NewRedis(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// GetJSON loads key and decodes it into v
func GetJSON(ctx context.Context, c Cache, key string, v interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode cached value %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, c Cache, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
