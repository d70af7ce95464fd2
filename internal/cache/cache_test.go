package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/config"
	"autoforge/internal/testutils"
)

type scored struct {
	Candidate string  `json:"candidate"`
	Score     float64 `json:"score"`
}

// flaky is a primary store whose availability can be toggled
type flaky struct {
	mu   sync.Mutex
	down bool
	data map[string][]byte
}

func newFlaky() *flaky { return &flaky{data: make(map[string][]byte)} }

var errDown = errors.New("connection refused")

func (f *flaky) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flaky) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errDown
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (f *flaky) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	f.data[key] = value
	return nil
}

func (f *flaky) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	delete(f.data, key)
	return nil
}

func (f *flaky) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	return nil
}

func (f *flaky) Close() error { return nil }

func TestResultCacheRoundTrip(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(5 * time.Second)

	mem := NewMemoryCache(8, 0)
	rc := NewResultCache(mem, KeyPrefix, time.Hour)
	defer rc.Close()

	var out scored
	ok, err := rc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rc.Set(ctx, "k", scored{Candidate: "ridge", Score: 0.91}))
	ok, err = rc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, scored{Candidate: "ridge", Score: 0.91}, out)

	// keys are namespaced in the backing store
	_, err = mem.Get(ctx, KeyPrefix+"k")
	assert.NoError(t, err)

	require.NoError(t, rc.Delete(ctx, "k"))
	ok, err = rc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(8, 0)
	defer mem.Close()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }

	require.NoError(t, mem.Set(ctx, "a", []byte("1"), time.Minute))
	_, err := mem.Get(ctx, "a")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = mem.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, mem.Size())

	stats := mem.Stats()
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(2, 0)
	defer mem.Close()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	require.NoError(t, mem.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, mem.Set(ctx, "b", []byte("2"), time.Hour))
	_, err := mem.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, mem.Set(ctx, "c", []byte("3"), time.Hour))
	assert.Equal(t, 2, mem.Size())

	_, err = mem.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = mem.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), mem.Stats().EvictionCount)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(2, 0)
	defer mem.Close()

	src := []byte("abc")
	require.NoError(t, mem.Set(ctx, "k", src, time.Hour))
	src[0] = 'z'

	got, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFallbackSwitchesAndRecovers(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(5 * time.Second)

	primary := newFlaky()
	fc := NewFallbackCache(primary, NewMemoryCache(16, 0), FallbackConfig{FailureThreshold: 2, PingTimeout: time.Second}, suite.Logger)
	defer fc.Close()

	require.NoError(t, fc.Set(ctx, "a", []byte("1"), time.Hour))
	assert.Contains(t, primary.data, "a")

	primary.setDown(true)
	require.NoError(t, fc.Set(ctx, "b", []byte("2"), time.Hour))
	assert.False(t, fc.InFallback())
	require.NoError(t, fc.Set(ctx, "c", []byte("3"), time.Hour))
	assert.True(t, fc.InFallback())

	// served from memory while the primary is down
	got, err := fc.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))

	assert.False(t, fc.CheckHealth(ctx))
	assert.True(t, fc.InFallback())

	primary.setDown(false)
	assert.True(t, fc.CheckHealth(ctx))
	assert.False(t, fc.InFallback())

	require.NoError(t, fc.Set(ctx, "d", []byte("4"), time.Hour))
	assert.Contains(t, primary.data, "d")
}

func TestFallbackWithoutPrimary(t *testing.T) {
	ctx := context.Background()
	fc := NewFallbackCache(nil, NewMemoryCache(4, 0), DefaultFallbackConfig(), nil)
	defer fc.Close()

	assert.True(t, fc.InFallback())
	require.NoError(t, fc.Set(ctx, "k", []byte("v"), time.Hour))
	got, err := fc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	assert.False(t, fc.CheckHealth(ctx))
}

func TestNewFromConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(10 * time.Second)

	cfg := config.Default().Cache
	cfg.Enabled = false
	assert.Nil(t, New(cfg, suite.Logger))

	cfg.Enabled = true
	rc := New(cfg, suite.Logger)
	require.NotNil(t, rc)
	_, isMemory := rc.Store().(*MemoryCache)
	assert.True(t, isMemory)
	rc.Close()

	// nothing listens on port 1, so the redis backend degrades to memory
	cfg.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	rc = New(cfg, suite.Logger)
	require.NotNil(t, rc)
	defer rc.Close()

	fc, ok := rc.Store().(*FallbackCache)
	require.True(t, ok)
	assert.True(t, fc.InFallback())

	require.NoError(t, rc.Set(ctx, "k", scored{Candidate: "knn", Score: 0.5}))
	var out scored
	hit, err := rc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "knn", out.Candidate)
}
