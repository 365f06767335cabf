// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	cache := NewMemoryCache(0) // No cleanup for this test

	cache.Set("member:1", "fp-1", 5*time.Minute)

	val, ok := cache.Get("member:1")
	require.True(t, ok, "expected to find member:1")
	assert.Equal(t, "fp-1", val)

	_, ok = cache.Get("nonexistent")
	assert.False(t, ok, "expected not to find nonexistent key")
}

func TestMemoryCache_Expiration(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("shortlived", "fp", 50*time.Millisecond)

	val, ok := cache.Get("shortlived")
	require.True(t, ok)
	assert.Equal(t, "fp", val)

	time.Sleep(100 * time.Millisecond)

	_, ok = cache.Get("shortlived")
	assert.False(t, ok, "expected key to be expired")
}

func TestMemoryCache_Delete(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("member:1", "fp-1", 5*time.Minute)

	_, ok := cache.Get("member:1")
	require.True(t, ok)

	cache.Delete("member:1")

	_, ok = cache.Get("member:1")
	assert.False(t, ok)
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("a", 1, time.Minute)
	cache.Set("b", 2, time.Minute)
	cache.Clear()

	assert.Equal(t, 0, cache.Stats().CurrentSize)
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("a", 1, time.Minute)
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_Janitor(t *testing.T) {
	cache := NewMemoryCache(20 * time.Millisecond)
	mc, ok := cache.(*memoryCache)
	require.True(t, ok)
	defer mc.Stop()

	cache.Set("expired", 1, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return cache.Stats().CurrentSize == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNoOpCache(t *testing.T) {
	cache := NewNoOpCache()

	cache.Set("a", 1, time.Minute)
	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, cache.Stats())
}
