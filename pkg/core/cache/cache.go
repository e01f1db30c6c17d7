// Package cache 提供带TTL的内存缓存，用于构建指纹等查询结果
package cache

import (
	"sync"
	"time"
)

// DefaultCleanupInterval 默认过期清理周期
const DefaultCleanupInterval = time.Minute

// Cache 带TTL的缓存接口（对外导出）
type Cache[V any] interface {
	// Set 设置缓存值，ttl<=0 表示不过期
	Set(key string, value V, ttl time.Duration)
	// Get 获取缓存值，过期或不存在返回 false
	Get(key string) (V, bool)
	// Delete 删除缓存值
	Delete(key string)
	// Clear 清空所有缓存
	Clear()
	// Len 当前条目数（含尚未清理的过期条目）
	Len() int
}

// entry 缓存条目（内部使用）
type entry[V any] struct {
	value      V
	expireTime time.Time // 零值表示不过期
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expireTime.IsZero() && now.After(e.expireTime)
}

// MemoryCache 内存TTL缓存实现（对外导出）
type MemoryCache[V any] struct {
	mu       sync.RWMutex
	items    map[string]*entry[V]
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache 创建内存缓存，并启动后台清理协程
// cleanupInterval<=0 时使用 DefaultCleanupInterval
func NewMemoryCache[V any](cleanupInterval time.Duration) *MemoryCache[V] {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &MemoryCache[V]{
		items:  make(map[string]*entry[V]),
		stopCh: make(chan struct{}),
	}
	go c.cleanupExpired(cleanupInterval)
	return c
}

// Set 设置缓存值
func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	if key == "" {
		return
	}
	e := &entry[V]{value: value}
	if ttl > 0 {
		e.expireTime = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
}

// Get 获取缓存值
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	var zero V
	if key == "" {
		return zero, false
	}

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}

	if e.expired(time.Now()) {
		c.mu.Lock()
		// 重新检查，避免删除并发写入的新条目
		if cur, ok := c.items[key]; ok && cur == e {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Delete 删除缓存值
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear 清空所有缓存
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*entry[V])
	c.mu.Unlock()
}

// Len 当前条目数
func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close 停止后台清理协程（可重复调用）
func (c *MemoryCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// cleanupExpired 定期清理过期条目
func (c *MemoryCache[V]) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, e := range c.items {
				if e.expired(now) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
