// Package topics — разрешение и создание топиков форумного канала: кеш с вытеснением
// и TTL плюс ограничение частоты создания.
package topics

import (
	"container/list"
	"sync"
	"time"
)

// Info — сведения о топике, как их держит кеш.
type Info struct {
	TopicID      int64
	Title        string
	IconColor    int32
	IconEmojiID  int64
	CreatedAt    time.Time
	MessageCount int
	LastActivity time.Time
	Category     string
}

type cacheEntry struct {
	key      string
	info     Info
	storedAt time.Time
}

// lruCache — ограниченный по размеру кеш со сроком жизни записей: по достижении
// ёмкости вытесняется самая давно не использованная запись. Get и put за O(1).
type lruCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

func newLRUCache(maxSize int, ttl time.Duration) *lruCache {
	return &lruCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *lruCache) get(key string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Info{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && time.Since(entry.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return Info{}, false
	}
	c.order.MoveToFront(el)
	return entry.info, true
}

func (c *lruCache) put(key string, info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).info = info
		el.Value.(*cacheEntry).storedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	el := c.order.PushFront(&cacheEntry{key: key, info: info, storedAt: time.Now()})
	c.entries[key] = el
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
