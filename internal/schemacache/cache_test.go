package schemacache

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c := New(cfg, zap.NewNop())
	t.Cleanup(c.Destroy)
	return c
}

func TestKeyGrammar(t *testing.T) {
	assert.Equal(t, "schema:mydb", Key("schema", "mydb"))
	assert.Equal(t, "table:mydb:users", Key("table", "mydb", "users"))
	assert.Equal(t, "profile:mydb:users:extra", Key("profile", "mydb", "users", "extra"))
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	_, ok := c.Get("schema:mydb")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestSetThenGetHits(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	c.Set("schema:mydb", "value", 0)
	v, ok := c.Get("schema:mydb")
	require.True(t, ok)
	assert.Equal(t, "value", v)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestGetExpiresAtTTLBoundary(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	c.Set("schema:mydb", "value", 10*time.Millisecond)

	_, ok := c.Get("schema:mydb")
	require.True(t, ok, "should still be live immediately after Set")

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("schema:mydb")
	assert.False(t, ok, "should be expired after TTL elapses")
}

func TestEvictionOrderPrefersLowHitsThenOldestTimestamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c := newTestCache(t, cfg)

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)

	// Give "a" a hit so it outranks "b" on the (hits asc) axis.
	_, _ = c.Get("a")

	// Inserting a third entry over MaxEntries should evict "b" (0 hits),
	// not "a" (1 hit).
	c.Set("c", 3, time.Hour)

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")

	assert.True(t, aOK, "entry with hits should survive eviction")
	assert.False(t, bOK, "zero-hit entry should be evicted first")
	assert.True(t, cOK, "newly inserted entry should be present")
}

func TestInvalidateNilClearsEverythingAndResetsCounters(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	c.Set("schema:mydb", "v", time.Hour)
	c.Get("schema:mydb")
	c.Get("missing")

	c.Invalidate(nil)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestInvalidatePatternRemovesOnlyMatchingKeys(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	c.Set(Key("schema", "poolA"), "a", time.Hour)
	c.Set(Key("schema", "poolB"), "b", time.Hour)

	c.Invalidate(regexp.MustCompile("poolA"))

	_, aOK := c.Get(Key("schema", "poolA"))
	_, bOK := c.Get(Key("schema", "poolB"))
	assert.False(t, aOK)
	assert.True(t, bOK)
}

func TestInvalidateDatabaseRemovesAllKindsForThatDB(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	c.Set(Key("schema", "poolA"), "s", time.Hour)
	c.Set(Key("table", "poolA", "users"), "t", time.Hour)
	c.Set(Key("schema", "poolB"), "s2", time.Hour)

	c.InvalidateDatabase("poolA")

	_, s1 := c.Get(Key("schema", "poolA"))
	_, t1 := c.Get(Key("table", "poolA", "users"))
	_, s2 := c.Get(Key("schema", "poolB"))
	assert.False(t, s1)
	assert.False(t, t1)
	assert.True(t, s2)
}

func TestGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	var calls int64

	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "loaded", nil
	}

	results := make(chan any, 5)
	for i := 0; i < 5; i++ {
		go func() {
			v, _, err := c.GetOrLoad(context.Background(), "k", 0, loader)
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, "loaded", <-results)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "loader should run exactly once for concurrent misses on the same key")
}

func TestGetOrLoadPropagatesLoaderError(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	wantErr := errors.New("boom")
	_, cached, err := c.GetOrLoad(context.Background(), "k", 0, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	assert.False(t, cached)
	assert.ErrorIs(t, err, wantErr)

	_, ok := c.Get("k")
	assert.False(t, ok, "a failed load must not populate the cache")
}

func TestDestroyIsIdempotent(t *testing.T) {
	c := New(DefaultConfig(), zap.NewNop())
	c.Set("k", "v", time.Hour)
	c.Destroy()
	assert.NotPanics(t, c.Destroy)

	_, ok := c.Get("k")
	assert.False(t, ok)
}
