package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"autoforge/internal/config"
	apperrors "autoforge/internal/errors"
)

// RedisCache represents Redis cache implementation
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects and pings; the dial timeout bounds the ping
func NewRedisCache(cfg config.RedisConfig, timeout time.Duration) (*RedisCache, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewAppError(apperrors.ErrCodeOptionalDependency, "failed to connect to redis", err).
			WithContext("addr", cfg.Addr)
	}
	return &RedisCache{client: client}, nil
}

// Get retrieves raw bytes; redis.Nil maps to ErrMiss
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return raw, err
}

// Set sets a value in cache with expiration
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Delete deletes a key from cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Ping performs a health check on Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client
func (r *RedisCache) Close() error {
	return r.client.Close()
}
