// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache provides the member fingerprint cache used to skip
// re-importing unchanged records. Backed by memory or Redis.
package cache

import (
	"sync"
	"time"
)

// Cache provides thread-safe caching with expiration support.
type Cache interface {
	// Get retrieves a value from the cache. Returns false if not found or expired.
	Get(key string) (any, bool)
	// Set stores a value in the cache with the specified TTL.
	Set(key string, value any, ttl time.Duration)
	// Delete removes a value from the cache.
	Delete(key string)
	// Clear removes all values from the cache.
	Clear()
	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry struct {
	value      any
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   CacheStats
	janitor *janitor
}

// NewMemoryCache creates a new in-memory cache with automatic cleanup.
// The cleanupInterval determines how often expired entries are removed;
// zero disables the cleanup goroutine.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{
		entries: make(map[string]*entry),
	}

	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}

	return c
}

func (c *memoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.isExpired() {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return e.value, true
}

func (c *memoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
	c.stats.Sets++
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

func (c *memoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, key)
			count++
		}
	}

	c.stats.Evictions += int64(count)
	return count
}

// Stop stops the background cleanup goroutine.
func (c *memoryCache) Stop() {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

type noOpCache struct{}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (c *noOpCache) Get(key string) (any, bool)                   { return nil, false }
func (c *noOpCache) Set(key string, value any, ttl time.Duration) {}
func (c *noOpCache) Delete(key string)                            {}
func (c *noOpCache) Clear()                                       {}
func (c *noOpCache) Stats() CacheStats                            { return CacheStats{} }
