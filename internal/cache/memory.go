package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache 带 TTL 和 LRU 淘汰的内存缓存
type MemoryCache struct {
	items    map[string]*memoryItem
	mu       sync.Mutex
	maxSize  int
	now      func() time.Time
	stopChan chan struct{}
	stopped  bool

	hits      int64
	misses    int64
	evictions int64
}

type memoryItem struct {
	value      []byte
	expiration time.Time
	accessed   time.Time
}

// MemoryCacheStats represents memory cache statistics
type MemoryCacheStats struct {
	ItemCount     int   `json:"item_count"`
	MaxSize       int   `json:"max_size"`
	HitCount      int64 `json:"hit_count"`
	MissCount     int64 `json:"miss_count"`
	EvictionCount int64 `json:"eviction_count"`
}

// NewMemoryCache creates a new memory cache and starts its cleanup loop
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	mc := &MemoryCache{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go mc.cleanupLoop(cleanupInterval)
	}
	return mc
}

// Get returns a copy of the stored bytes or ErrMiss
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.items[key]
	if ok && mc.now().After(item.expiration) {
		delete(mc.items, key)
		ok = false
	}
	if !ok {
		atomic.AddInt64(&mc.misses, 1)
		return nil, ErrMiss
	}
	atomic.AddInt64(&mc.hits, 1)
	item.accessed = mc.now()
	return append([]byte(nil), item.value...), nil
}

// Set stores value; a non-positive expiration keeps it for 24h
func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}
	now := mc.now()
	mc.items[key] = &memoryItem{
		value:      append([]byte(nil), value...),
		expiration: now.Add(expiration),
		accessed:   now,
	}
	return nil
}

// Delete removes a key
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.items, key)
	return nil
}

// Size returns the number of stored items, expired ones included until cleanup
func (mc *MemoryCache) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.items)
}

// Stats returns hit/miss/eviction counters
func (mc *MemoryCache) Stats() MemoryCacheStats {
	mc.mu.Lock()
	n := len(mc.items)
	mc.mu.Unlock()
	return MemoryCacheStats{
		ItemCount:     n,
		MaxSize:       mc.maxSize,
		HitCount:      atomic.LoadInt64(&mc.hits),
		MissCount:     atomic.LoadInt64(&mc.misses),
		EvictionCount: atomic.LoadInt64(&mc.evictions),
	}
}

// evictLRU evicts the least recently used item; caller holds the lock
func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, item := range mc.items {
		if first || item.accessed.Before(oldest) {
			oldestKey = key
			oldest = item.accessed
			first = false
		}
	}
	if !first {
		delete(mc.items, oldestKey)
		atomic.AddInt64(&mc.evictions, 1)
	}
}

func (mc *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stopChan:
			return
		}
	}
}

// cleanup removes expired items
func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
}

// Close stops the cleanup loop
func (mc *MemoryCache) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.stopped {
		close(mc.stopChan)
		mc.stopped = true
	}
	return nil
}
