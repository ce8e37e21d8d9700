// Package cache provides the short-lived, size-bounded read-through cache
// that sits in front of command and policy lookups.
//
// Entries expire after a per-entry TTL and are evicted in LRU order once
// the cache is full. Concurrent misses on the same key share a single
// compute. Errors are never cached. A value whose compute overlapped an
// invalidation is handed to its caller but not stored, so an invalidation
// is never undone by an in-flight read.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the entry bound used when none is configured.
const DefaultSize = 4096

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, entry]
	flights singleflight.Group
	now     func() time.Time

	// mu orders stores against invalidations; epoch advances on every
	// invalidation and is only written under mu. dropping is set under mu
	// while entries are removed on purpose, so only capacity evictions count.
	mu       sync.Mutex
	epoch    atomic.Uint64
	dropping bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	size int
	now  func() time.Time
}

// WithSize bounds the number of entries.
func WithSize(n int) Option {
	return func(c *config) { c.size = n }
}

// WithClock replaces the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	cfg := config{size: DefaultSize, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.size <= 0 {
		cfg.size = DefaultSize
	}

	c := &Cache{now: cfg.now}
	entries, err := lru.NewWithEvict[string, entry](cfg.size, c.onEvict)
	if err != nil {
		// Only reachable with a non-positive size, which is clamped above.
		panic(fmt.Sprintf("cache: %v", err))
	}
	c.entries = entries
	return c
}

// onEvict runs under mu, inside the lru call that removed the entry.
func (c *Cache) onEvict(string, entry) {
	if !c.dropping {
		c.evictions.Add(1)
	}
}

// Fetch returns the unexpired value stored under key, or runs compute,
// stores its result for ttl and returns it. A non-positive ttl disables
// storing. compute errors are returned and not stored.
//
// compute runs once for all concurrent callers of the same key, under a
// context that keeps the first caller's values but not its cancellation.
// Each caller stops waiting when its own ctx is done.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (any, error)) (any, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	start := c.epoch.Load()
	flightKey := fmt.Sprintf("%d|%s", start, key)

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(flightKey, func() (any, error) {
		v, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.mu.Lock()
			if c.epoch.Load() == start {
				c.entries.Add(key, entry{value: v, expiresAt: c.now().Add(ttl)})
			}
			c.mu.Unlock()
		}
		return v, nil
	})

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchAs is Fetch for a typed value.
func FetchAs[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		if v == nil {
			return zero, nil
		}
		return zero, fmt.Errorf("cache: value under %q is %T, not %T", key, v, zero)
	}
	return typed, nil
}

// FetchString is Fetch for scalar string values such as ID lookups.
func (c *Cache) FetchString(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (string, error)) (string, error) {
	return FetchAs(ctx, c, key, ttl, compute)
}

// Invalidate removes key. The next Fetch recomputes.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	c.dropping = true
	c.entries.Remove(key)
	c.dropping = false
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	c.dropping = true
	defer func() { c.dropping = false }()
	removed := 0
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) && c.entries.Remove(k) {
			removed++
		}
	}
	return removed
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	c.dropping = true
	c.entries.Purge()
	c.dropping = false
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int { return c.entries.Len() }

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.entries.Len(),
	}
}

func (c *Cache) lookup(key string) (any, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}
