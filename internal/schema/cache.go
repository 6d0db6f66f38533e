package schema

import (
	"container/list"
	"sync"
)

// LRUCache caches schemas by Key with least-recently-used eviction.
// Get and Put hand out copies, so callers can mutate results freely.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	index    map[Key]*list.Element
	order    *list.List // front = most recently used
}

type lruEntry struct {
	key    Key
	schema *Schema
}

// NewLRUCache creates a cache holding at most capacity schemas.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		index:    make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached schema, or nil on a miss.
func (c *LRUCache) Get(key Key) *Schema {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return nil
	}
	c.order.MoveToFront(elem)

	dup := *elem.Value.(*lruEntry).schema
	return &dup
}

// Put stores a schema, evicting the least recently used entry when the
// cache is full.
func (c *LRUCache) Put(schema *Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := schema.Key()
	dup := *schema

	if elem, ok := c.index[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry).schema = &dup
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.index, oldest.Value.(*lruEntry).key)
			c.order.Remove(oldest)
		}
	}

	c.index[key] = c.order.PushFront(&lruEntry{key: key, schema: &dup})
}

// Invalidate drops one entry.
func (c *LRUCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		delete(c.index, key)
		c.order.Remove(elem)
	}
}

// Clear drops every entry.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[Key]*list.Element)
	c.order = list.New()
}
