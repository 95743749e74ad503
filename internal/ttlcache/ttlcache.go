// Package ttlcache implements the TTL Cache component (C6): a single
// expiration-driven map, one mutex, no LRU and no size bound — entries
// leave only by expiring or by explicit invalidation.
package ttlcache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value  any
	expiry time.Time
}

// Cache is a thread-safe string-keyed store with per-entry TTL.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
}

// New returns a Cache whose Set calls use ttl (SetTTL overrides it per
// entry), and whose Stats report ttl as the configured default.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: ttl,
	}
}

// Get returns the cached value and true iff a non-expired entry exists.
// An expired entry is removed as a side effect of the lookup.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiry) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL, overriding the
// cache's default for this entry only.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiry: time.Now().Add(ttl)}
}

// Invalidate removes a single key, regardless of expiry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// CleanupExpired sweeps and removes every currently-expired entry,
// returning the number removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats summarizes cache occupancy.
type Stats struct {
	Total      int
	Valid      int
	Expired    int
	DefaultTTL time.Duration
}

// Stats returns total/valid/expired entry counts without evicting anything.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	s := Stats{Total: len(c.entries), DefaultTTL: c.defaultTTL}
	for _, e := range c.entries {
		if now.After(e.expiry) {
			s.Expired++
		} else {
			s.Valid++
		}
	}
	return s
}

// Key builds the deterministic memoisation key described in §4.6:
// prefix ":" arg1 ":" arg2 ":" ... ":" kwarg_sorted=value ... . Keyword
// arguments are sorted by name so that callers passing them in different
// orders still hit the same cache entry.
func Key(prefix string, args []any, kwargs map[string]any) string {
	parts := make([]string, 0, len(args)+len(kwargs)+1)
	parts = append(parts, prefix)
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}

	names := make([]string, 0, len(kwargs))
	for k := range kwargs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, kwargs[k]))
	}

	return strings.Join(parts, ":")
}

// Memoize wraps fn so repeated calls with an equal argument tuple within
// ttl return the cached result instead of re-invoking fn. The caller is
// responsible for including every result-influencing argument — crucially
// the target database alias — in args/kwargs so that cache entries never
// leak across databases.
func Memoize[T any](c *Cache, prefix string, ttl time.Duration, args []any, kwargs map[string]any, fn func() (T, error)) (T, error) {
	key := Key(prefix, args, kwargs)

	if cached, ok := c.Get(key); ok {
		if typed, ok := cached.(T); ok {
			return typed, nil
		}
	}

	result, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	c.SetTTL(key, result, ttl)
	return result, nil
}
