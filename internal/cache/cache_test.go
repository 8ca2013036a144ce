package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(10)

	c.Set("prices:487240", []int{1, 2, 3}, TTLNormal, "ticker:487240")

	got, ok := c.Get("prices:487240", false)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, got)

	_, ok = c.Get("missing", false)
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(10)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "v", TTLStatus)

	_, ok := c.Get("k", false)
	require.True(t, ok)

	// Advance past the TTL.
	now = now.Add(TTLStatus + time.Second)
	_, ok = c.Get("k", false)
	assert.False(t, ok)

	// Expired entry was dropped, not just hidden.
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCacheBypassDropsEntry(t *testing.T) {
	c := New(10)
	c.Set("k", "v", TTLNormal)

	_, ok := c.Get("k", true)
	assert.False(t, ok, "bypass must report a miss")

	_, ok = c.Get("k", false)
	assert.False(t, ok, "bypass must drop the existing entry")
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(3)

	c.Set("a", 1, TTLNormal)
	c.Set("b", 2, TTLNormal)
	c.Set("c", 3, TTLNormal)

	// Touch "a" so "b" becomes the LRU victim.
	_, ok := c.Get("a", false)
	require.True(t, ok)

	c.Set("d", 4, TTLNormal)

	_, ok = c.Get("b", false)
	assert.False(t, ok, "least recently used entry should be evicted")

	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key, false)
		assert.True(t, ok, "key %s should survive", key)
	}

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheInvalidateByTag(t *testing.T) {
	c := New(10)

	c.Set("prices:487240", "p", TTLNormal, "ticker:487240", "kind:prices")
	c.Set("flows:487240", "f", TTLNormal, "ticker:487240", "kind:flows")
	c.Set("prices:005930", "p", TTLNormal, "ticker:005930", "kind:prices")

	removed := c.InvalidateByTag("ticker:487240")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("prices:005930", false)
	assert.True(t, ok, "entries for other tickers must survive")
}

func TestCacheStats(t *testing.T) {
	c := New(10)

	c.Set("k", "v", TTLNormal)
	c.Get("k", false)
	c.Get("k", false)
	c.Get("missing", false)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestCacheFlush(t *testing.T) {
	c := New(10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, TTLNormal)
	}

	c.Flush()
	assert.Equal(t, 0, c.Stats().Size)
}
