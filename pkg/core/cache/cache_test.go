package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemoryCache[string](0)
	defer c.Close()

	c.Set("core", "fp-1", time.Hour)
	v, ok := c.Get("core")
	require.True(t, ok)
	assert.Equal(t, "fp-1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Set("", "ignored", time.Hour)
	assert.Equal(t, 1, c.Len(), "空key应被忽略")
}

func TestMemoryCache_TTLExpiration(t *testing.T) {
	c := NewMemoryCache[int](0)
	defer c.Close()

	c.Set("k", 1, 50*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "过期条目不应返回")
	assert.Equal(t, 0, c.Len(), "读取时应删除过期条目")
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache[int](10 * time.Millisecond)
	defer c.Close()

	c.Set("k", 7, 0)
	time.Sleep(30 * time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestMemoryCache_BackgroundCleanup(t *testing.T) {
	c := NewMemoryCache[int](10 * time.Millisecond)
	defer c.Close()

	c.Set("k", 1, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	c := NewMemoryCache[int](0)
	defer c.Close()

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache[string](0)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			key := fmt.Sprintf("cfg-%d", idx)
			c.Set(key, key, time.Hour)
			v, ok := c.Get(key)
			assert.True(t, ok)
			assert.Equal(t, key, v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, c.Len())
	c.Close()
	c.Close()
}
