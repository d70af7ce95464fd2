package cache

import (
	"time"

	"autoforge/internal/config"
	"autoforge/internal/logger"
)

// KeyPrefix namespaces cross-validation results in shared backends
const KeyPrefix = "autoforge:cv:"

// New builds the result cache described by cfg. A disabled cache yields nil.
// An unreachable redis degrades to the memory layer with a warning instead of failing.
func New(cfg config.CacheConfig, log logger.Logger) *ResultCache {
	if !cfg.Enabled {
		return nil
	}
	log = logger.OrDefault(log)
	memory := NewMemoryCache(cfg.MaxEntries, 5*time.Minute)

	if cfg.Backend != "redis" {
		return NewResultCache(memory, KeyPrefix, cfg.TTL)
	}

	fbCfg := DefaultFallbackConfig()
	var primary Store
	redisCache, err := NewRedisCache(cfg.Redis, fbCfg.PingTimeout*2)
	if err != nil {
		log.Warn("redis unavailable, cross-validation cache falls back to memory", "addr", cfg.Redis.Addr, "error", err)
	} else {
		primary = redisCache
	}
	return NewResultCache(NewFallbackCache(primary, memory, fbCfg, log), KeyPrefix, cfg.TTL)
}
