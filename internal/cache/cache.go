package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "autoforge/internal/errors"
)

// ErrMiss is returned by a Store when the key is absent or expired
var ErrMiss = apperrors.ErrCacheMiss

// Store 字节级缓存后端
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ResultCache stores JSON-encoded values under a key prefix with a fixed TTL
type ResultCache struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// NewResultCache wraps a store
func NewResultCache(store Store, prefix string, ttl time.Duration) *ResultCache {
	return &ResultCache{store: store, prefix: prefix, ttl: ttl}
}

// Get decodes the cached value into dest; a miss is (false, nil)
func (c *ResultCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.store.Get(ctx, c.prefix+key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperrors.NewAppError(apperrors.ErrCodeInternal, "decode cached value", err)
	}
	return true, nil
}

// Set encodes and stores value
func (c *ResultCache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInternal, "encode cache value", err)
	}
	return c.store.Set(ctx, c.prefix+key, raw, c.ttl)
}

// Delete removes a key
func (c *ResultCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.prefix+key)
}

// Store returns the backing store
func (c *ResultCache) Store() Store { return c.store }

// Close releases the backing store
func (c *ResultCache) Close() error { return c.store.Close() }
