// Package schemacache implements the TTL-bounded, size-bounded cache, evicting
// the fewest-hit, then oldest, entries first, (spec.md component C8) that sits in front of the schema analyzer and
// data profiler.
package schemacache

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/melkeydev/dbbroker/internal/adapter"
)

// Config carries the cache's tunables (spec.md §4.8).
type Config struct {
	DefaultTTL      time.Duration
	MaxSizeBytes    int64
	MaxEntries      int
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL:      5 * time.Minute,
		MaxSizeBytes:    64 * 1024 * 1024,
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
	}
}

type entry struct {
	data      any
	timestamp time.Time
	ttl       time.Duration
	hits      int64
	sizeBytes int64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// Cache is safe for concurrent use, guarded by a single RWMutex. Get takes
// the full Lock rather than an RLock because a hit mutates the entry's and
// the cache's hit counters, and an expired hit deletes the entry; Set,
// evict, invalidate and cleanup take the full Lock too. Only Stats is a
// true read: it takes the RLock (spec.md §5).
type Cache struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	hitCount  int64
	missCount int64

	group singleflight.Group

	stopCh chan struct{}
	stopped bool
}

func New(cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultConfig().MaxSizeBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	c := &Cache{cfg: cfg, logger: logger, entries: make(map[string]*entry), stopCh: make(chan struct{})}
	go c.sweepLoop()
	return c
}

// Key builds the "kind:db[:entity]" cache key grammar from spec.md §3.
func Key(kind, db string, entity ...string) string {
	k := kind + ":" + db
	for _, e := range entity {
		k += ":" + e
	}
	return k
}

// Get returns the cached value and true on a live hit, incrementing both
// the entry-local hit counter and the global hit counter. A miss increments
// the miss counter and returns (nil, false); an expired entry is deleted on
// the spot rather than left for the periodic sweep.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.missCount++
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		c.missCount++
		return nil, false
	}
	e.hits++
	c.hitCount++
	return e.data, true
}

// Set stores value under key with ttl (or the cache default). If the
// insert would exceed MaxEntries or MaxSizeBytes, entries are evicted in
// (hits asc, timestamp asc) order until enough space is freed.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	size := estimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	var totalSize int64
	for _, e := range c.entries {
		totalSize += e.sizeBytes
	}

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.cfg.MaxEntries || totalSize+size > c.cfg.MaxSizeBytes {
			c.evictLocked(size, totalSize)
		}
	}

	c.entries[key] = &entry{data: value, timestamp: time.Now(), ttl: ttl, sizeBytes: size}
}

func (c *Cache) evictLocked(required, currentTotal int64) {
	type kv struct {
		key string
		e   *entry
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.hits != all[j].e.hits {
			return all[i].e.hits < all[j].e.hits
		}
		return all[i].e.timestamp.Before(all[j].e.timestamp)
	})

	freed := int64(0)
	needed := currentTotal + required - c.cfg.MaxSizeBytes
	overCount := len(c.entries) - c.cfg.MaxEntries + 1

	for i, item := range all {
		if freed >= needed && i >= overCount {
			break
		}
		delete(c.entries, item.key)
		freed += item.e.sizeBytes
		if freed >= needed && len(c.entries) < c.cfg.MaxEntries {
			break
		}
	}
}

// GetOrLoad serves a cached value or, on miss, collapses concurrent loads
// for the same key into a single call to loader via singleflight before
// populating the cache — this is the schema-cache-miss stampede guard
// spec.md itself doesn't name but §5's "reads may be concurrent" implies is
// needed once C9/C10 sit behind the cache.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (any, error)) (any, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, val, ttl)
		return val, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Invalidate clears everything and resets counters when pattern is nil, or
// removes keys matching pattern otherwise.
func (c *Cache) Invalidate(pattern *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == nil {
		c.entries = make(map[string]*entry)
		c.hitCount = 0
		c.missCount = 0
		return
	}
	for k := range c.entries {
		if pattern.MatchString(k) {
			delete(c.entries, k)
		}
	}
}

// InvalidateDatabase removes every cached entry for db across all kinds.
func (c *Cache) InvalidateDatabase(db string) {
	c.Invalidate(regexp.MustCompile(`^(schema|table|profile|relationships|dbinfo):` + regexp.QuoteMeta(db)))
}

// InvalidateTable removes table/profile entries for one table of db.
func (c *Cache) InvalidateTable(db, table string) {
	c.Invalidate(regexp.MustCompile(`^(table|profile):` + regexp.QuoteMeta(db) + `:` + regexp.QuoteMeta(table)))
}

// Stats exposes hit/miss counters and current occupancy for diagnostics.
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"sizeBytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var size int64
	for _, e := range c.entries {
		size += e.sizeBytes
	}
	return Stats{Entries: len(c.entries), SizeBytes: size, Hits: c.hitCount, Misses: c.missCount}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Destroy stops the sweep timer and empties the cache.
func (c *Cache) Destroy() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	close(c.stopCh)
}

func estimateSize(v any) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(2 * len(b))
}

// WarmUp prefetches DB info, a lightweight schema, relationships, and
// per-table info; for tables under 10k rows it also fetches a shallow
// profile. Failures are logged, never fatal (spec.md §4.8).
func WarmUp(ctx context.Context, c *Cache, db string, a adapter.Adapter, logger *zap.Logger) {
	if logger == nil {
		logger = c.logger
	}
	analyzer := a.GetSchemaAnalyzer()
	profiler := a.GetDataProfiler()

	if info, err := analyzer.GetDBInfo(ctx); err == nil {
		c.Set(Key("dbinfo", db), info, 0)
	} else {
		logger.Warn("warm-up: dbinfo failed", zap.String("db", db), zap.Error(err))
	}

	schema, err := analyzer.GetSchema(ctx)
	if err != nil {
		logger.Warn("warm-up: schema failed", zap.String("db", db), zap.Error(err))
		return
	}
	c.Set(Key("schema", db), schema, 0)

	if rels, err := analyzer.GetRelationships(ctx); err == nil {
		c.Set(Key("relationships", db), rels, 0)
	} else {
		logger.Warn("warm-up: relationships failed", zap.String("db", db), zap.Error(err))
	}

	for _, tbl := range schema.Tables {
		c.Set(Key("table", db, tbl.Name), tbl, 0)
		if tbl.RowCount != nil && *tbl.RowCount < 10_000 {
			if profile, err := profiler.ProfileTable(ctx, tbl.Name, 200); err == nil {
				c.Set(Key("profile", db, tbl.Name), profile, 0)
			} else {
				logger.Warn("warm-up: profile failed", zap.String("db", db), zap.String("table", tbl.Name), zap.Error(err))
			}
		}
	}
}
