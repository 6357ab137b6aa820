// Package respcache caches raw upstream response bodies keyed by request
// URL. It only exists to absorb repeat lookups inside a short window; it is
// never a source of truth and a miss just means the request goes out.
package respcache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	body    []byte
	expires time.Time
}

// Cache is a bounded LRU with a per-entry TTL. Expired entries are purged
// lazily on access and insert. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the cached body for key, or nil and false on a miss. A hit
// refreshes the entry's LRU position but not its TTL.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	en := el.Value.(*entry)
	if c.now().After(en.expires) {
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return en.body, true
}

// Put stores body under key, replacing any existing entry and evicting the
// least recently used entry when the cache is full.
func (c *Cache) Put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry)
		en.body = body
		en.expires = expires
		c.order.MoveToFront(el)
		return
	}
	c.purgeExpired()
	for c.order.Len() >= c.capacity {
		c.remove(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&entry{key: key, body: body, expires: expires})
}

// Len reports the number of live entries, purging expired ones first.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpired()
	return c.order.Len()
}

func (c *Cache) purgeExpired() {
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expires) {
			c.remove(el)
		}
		el = prev
	}
}

func (c *Cache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
