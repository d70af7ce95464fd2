package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"autoforge/internal/logger"
)

// Pinger is implemented by stores that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// FallbackConfig defines fallback configuration
type FallbackConfig struct {
	FailureThreshold    int
	HealthCheckInterval time.Duration
	PingTimeout         time.Duration
}

// DefaultFallbackConfig returns default fallback configuration
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		FailureThreshold:    3,
		HealthCheckInterval: 30 * time.Second,
		PingTimeout:         time.Second,
	}
}

// FallbackCache 主存储失败时降级到内存缓存, 主存储恢复后自动切回
type FallbackCache struct {
	primary Store
	memory  *MemoryCache
	config  FallbackConfig
	logger  logger.Logger

	mu       sync.RWMutex
	failures int
	fallback bool
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewFallbackCache wraps primary with a memory layer; a nil primary starts in fallback mode
func NewFallbackCache(primary Store, memory *MemoryCache, cfg FallbackConfig, log logger.Logger) *FallbackCache {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	fc := &FallbackCache{
		primary:  primary,
		memory:   memory,
		config:   cfg,
		logger:   logger.OrDefault(log),
		fallback: primary == nil,
		stopChan: make(chan struct{}),
	}
	if _, ok := primary.(Pinger); ok && cfg.HealthCheckInterval > 0 {
		go fc.healthLoop()
	}
	return fc
}

// Get tries the primary store, then memory
func (fc *FallbackCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !fc.InFallback() {
		raw, err := fc.primary.Get(ctx, key)
		switch {
		case err == nil:
			fc.recordSuccess()
			return raw, nil
		case errors.Is(err, ErrMiss):
			fc.recordSuccess()
		default:
			fc.recordFailure("get", err)
		}
	}
	return fc.memory.Get(ctx, key)
}

// Set writes through to memory and, when healthy, the primary store
func (fc *FallbackCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if !fc.InFallback() {
		if err := fc.primary.Set(ctx, key, value, expiration); err != nil {
			fc.recordFailure("set", err)
		} else {
			fc.recordSuccess()
		}
	}
	return fc.memory.Set(ctx, key, value, expiration)
}

// Delete removes the key from both layers
func (fc *FallbackCache) Delete(ctx context.Context, key string) error {
	if !fc.InFallback() {
		if err := fc.primary.Delete(ctx, key); err != nil {
			fc.recordFailure("delete", err)
		}
	}
	return fc.memory.Delete(ctx, key)
}

// InFallback reports whether the primary store is bypassed
func (fc *FallbackCache) InFallback() bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.fallback
}

// CheckHealth pings the primary store and leaves fallback mode when it answers
func (fc *FallbackCache) CheckHealth(ctx context.Context) bool {
	p, ok := fc.primary.(Pinger)
	if !ok {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, fc.config.PingTimeout)
	defer cancel()
	if err := p.Ping(pctx); err != nil {
		return false
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.fallback {
		fc.logger.Info("cache primary recovered, leaving fallback mode")
	}
	fc.fallback = false
	fc.failures = 0
	return true
}

// Close stops health checks and closes both layers
func (fc *FallbackCache) Close() error {
	fc.stopOnce.Do(func() { close(fc.stopChan) })
	var err error
	if fc.primary != nil {
		err = fc.primary.Close()
	}
	if merr := fc.memory.Close(); err == nil {
		err = merr
	}
	return err
}

func (fc *FallbackCache) recordSuccess() {
	fc.mu.Lock()
	fc.failures = 0
	fc.mu.Unlock()
}

func (fc *FallbackCache) recordFailure(op string, err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.failures++
	if !fc.fallback && fc.failures >= fc.config.FailureThreshold {
		fc.fallback = true
		fc.logger.Warn("cache primary failing, switching to memory", "operation", op, "failures", fc.failures, "error", err)
	}
}

func (fc *FallbackCache) healthLoop() {
	ticker := time.NewTicker(fc.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if fc.InFallback() {
				fc.CheckHealth(context.Background())
			}
		case <-fc.stopChan:
			return
		}
	}
}
