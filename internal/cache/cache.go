// Package cache provides a read-through TTL cache with two tiers: a
// process-local memory tier and an optional durable tier that survives
// restarts. It exists to cut redundant reads of small lookup tables
// (countries, categories, hero banners) and per-notification resolution
// results; there is no size bound and no eviction beyond TTL.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
	"go.uber.org/zap"
)

// schemaMarkerKey is the durable key holding the schema version marker
const schemaMarkerKey = "schema_version"

// envelope is the durable on-the-wire shape of one entry. Anything that
// fails to parse back into this shape is treated as absent and removed.
type envelope struct {
	Data          json.RawMessage `json:"data"`
	StoredAt      time.Time       `json:"stored_at"`
	TTLMillis     int64           `json:"ttl_ms"`
	SchemaVersion string          `json:"schema_version"`
}

type memEntry struct {
	data     any
	storedAt time.Time
	ttl      time.Duration
}

// Cache is the process-wide cache service. Construct one at application
// start and inject it; writes are last-writer-wins per key.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]memEntry

	durable       DurableStore // nil = memory tier only
	schemaVersion string
	now           func() time.Time
	metrics       *metrics.Metrics
}

// Option configures a Cache
type Option func(*Cache)

// WithDurable attaches a durable tier
func WithDurable(store DurableStore) Option {
	return func(c *Cache) { c.durable = store }
}

// WithClock overrides the cache clock; tests advance time with it
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and, when a durable tier is attached, performs the
// schema-version check: entries written under a different version are wiped
// in bulk before any read, so stale-shape data never reaches consumers
// after a deploy. Durable tier failures degrade to memory-only, never error.
func New(schemaVersion string, opts ...Option) *Cache {
	c := &Cache{
		entries:       make(map[string]memEntry),
		schemaVersion: schemaVersion,
		now:           time.Now,
		metrics:       metrics.Get(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.durable != nil {
		c.checkSchemaVersion()
	}
	return c
}

// checkSchemaVersion wipes the durable tier when the stored marker differs
// from the running version
func (c *Cache) checkSchemaVersion() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.durable.Read(ctx, schemaMarkerKey)
	if err != nil {
		logger.Warn("durable cache unavailable, running memory-only", zap.Error(err))
		c.durable = nil
		return
	}

	stored := string(raw)
	if stored == c.schemaVersion {
		return
	}

	logger.Info("cache schema version changed, wiping durable tier",
		zap.String("stored", stored),
		zap.String("current", c.schemaVersion))

	if err := c.durable.WipeAll(ctx); err != nil {
		logger.Warn("durable cache wipe failed, running memory-only", zap.Error(err))
		c.durable = nil
		return
	}
	if err := c.durable.Write(ctx, schemaMarkerKey, []byte(c.schemaVersion), 0); err != nil {
		logger.Warn("schema marker write failed, running memory-only", zap.Error(err))
		c.durable = nil
	}
}

// Set stores a value in the memory tier, overwriting any prior entry
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{data: value, storedAt: c.now(), ttl: ttl}
}

// Get returns the value for key, or absent. Expired entries are deleted as
// a side effect of the read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.metrics.CacheMissesTotal.WithLabelValues("memory", "absent").Inc()
		return nil, false
	}
	if c.now().Sub(e.storedAt) > e.ttl {
		c.mu.Lock()
		// re-check under the write lock; a concurrent Set may have renewed
		if cur, still := c.entries[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.metrics.CacheMissesTotal.WithLabelValues("memory", "expired").Inc()
		c.metrics.CacheEvictionsTotal.WithLabelValues("memory", "expired").Inc()
		return nil, false
	}
	c.metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
	return e.data, true
}

// Clear removes the given keys, or every entry when none are given
func (c *Cache) Clear(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		c.entries = make(map[string]memEntry)
		return
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// SetDurable stores a value in the durable tier. Storage failures are
// logged and swallowed; persistence is best-effort by contract.
func (c *Cache) SetDurable(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.durable == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("unserializable durable cache value", zap.String("key", key), zap.Error(err))
		return
	}
	env := envelope{
		Data:          data,
		StoredAt:      c.now(),
		TTLMillis:     ttl.Milliseconds(),
		SchemaVersion: c.schemaVersion,
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := c.durable.Write(ctx, key, blob, ttl); err != nil {
		logger.Warn("durable cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// GetDurable reads a durable entry into dst. Entries that are missing,
// expired, written under another schema version, or unparseable are treated
// as absent; the defective entry is deleted rather than surfaced.
func (c *Cache) GetDurable(ctx context.Context, key string, dst any) bool {
	if c.durable == nil {
		return false
	}
	raw, err := c.durable.Read(ctx, key)
	if err != nil {
		logger.Warn("durable cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if raw == nil {
		c.metrics.CacheMissesTotal.WithLabelValues("durable", "absent").Inc()
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.dropDurable(ctx, key, "malformed")
		return false
	}
	if env.SchemaVersion != c.schemaVersion {
		c.dropDurable(ctx, key, "schema")
		return false
	}
	if c.now().Sub(env.StoredAt) > time.Duration(env.TTLMillis)*time.Millisecond {
		c.dropDurable(ctx, key, "expired")
		return false
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		c.dropDurable(ctx, key, "malformed")
		return false
	}
	c.metrics.CacheHitsTotal.WithLabelValues("durable").Inc()
	return true
}

func (c *Cache) dropDurable(ctx context.Context, key, reason string) {
	c.metrics.CacheMissesTotal.WithLabelValues("durable", reason).Inc()
	c.metrics.CacheEvictionsTotal.WithLabelValues("durable", reason).Inc()
	if err := c.durable.Delete(ctx, key); err != nil {
		logger.Warn("durable cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// ClearDurable removes the given durable keys, or every durable entry when
// none are given
func (c *Cache) ClearDurable(ctx context.Context, keys ...string) {
	if c.durable == nil {
		return
	}
	var err error
	if len(keys) == 0 {
		err = c.durable.WipeAll(ctx)
		if err == nil {
			// the wipe also removed the marker; restore it
			err = c.durable.Write(ctx, schemaMarkerKey, []byte(c.schemaVersion), 0)
		}
	} else {
		err = c.durable.Delete(ctx, keys...)
	}
	if err != nil {
		logger.Warn("durable cache clear failed", zap.Error(err))
	}
}
