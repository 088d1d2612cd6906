package ratelimit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheTTL is used when Set is called without a ttl.
const DefaultCacheTTL = time.Hour

// CacheEntry is a cached value with its lifetime.
type CacheEntry[T any] struct {
	Data      T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CacheStats describes the cache contents.
type CacheStats struct {
	Size        int        `json:"size"`
	Hits        int64      `json:"hits"`
	Misses      int64      `json:"misses"`
	HitRate     float64    `json:"hit_rate"`
	OldestEntry *time.Time `json:"oldest_entry,omitempty"`
}

// Cache is a TTL cache. Expired entries are dropped lazily on Get and in
// bulk by Sweep.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]CacheEntry[T]
	ttl     time.Duration
	hits    int64
	misses  int64
	now     func() time.Time
	logger  *zap.Logger
}

// NewCache creates a cache with the given default ttl.
func NewCache[T any](ttl time.Duration, logger *zap.Logger) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[T]{
		entries: make(map[string]CacheEntry[T]),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *Cache[T]) WithClock(now func() time.Time) *Cache[T] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().After(e.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.Data, true
}

// Set stores value under key. A non-positive ttl uses the default.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = CacheEntry[T]{Data: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (c *Cache[T]) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Cleaned up expired cache entries", zap.Int("removed", n))
			}
		}
	}
}

// Stats returns size, hit counters and the oldest entry time.
func (c *Cache[T]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	for _, e := range c.entries {
		if s.OldestEntry == nil || e.CreatedAt.Before(*s.OldestEntry) {
			t := e.CreatedAt
			s.OldestEntry = &t
		}
	}
	return s
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]CacheEntry[T])
	c.mu.Unlock()
}

// Key derives a cache key from the normalized message and a serialization
// of its context.
func Key(message string, convCtx any) string {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if convCtx == nil {
		return normalized + ":"
	}
	raw, err := json.Marshal(convCtx)
	if err != nil {
		return normalized + ":"
	}
	return normalized + ":" + string(raw)
}
