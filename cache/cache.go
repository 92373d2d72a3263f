package cache

import (
	"container/list"
	"expvar"
	"sync"
)

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRUCache is a fixed-size, internally locked LRU cache. Eviction callbacks
// run after the lock is released, so they may block (closing files, for
// example) without stalling other callers.
type LRUCache[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	lruList    *list.List
	cacheItems map[K]*list.Element
	onEvicted  func(key K, value V)
	onHit      func(key K)
	onMiss     func(key K)

	hits   *expvar.Int
	misses *expvar.Int
}

// NewLRUCache creates a cache holding at most capacity entries. A capacity
// of zero or less disables caching.
func NewLRUCache[K comparable, V any](capacity int, onEvicted func(key K, value V), onHit, onMiss func(key K)) *LRUCache[K, V] {
	return &LRUCache[K, V]{
		capacity:   capacity,
		lruList:    list.New(),
		cacheItems: make(map[K]*list.Element),
		onEvicted:  onEvicted,
		onHit:      onHit,
		onMiss:     onMiss,
	}
}

func (c *LRUCache[K, V]) SetMetrics(hits, misses *expvar.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = hits
	c.misses = misses
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return value, false
	}

	if elem, ok := c.cacheItems[key]; ok {
		if c.hits != nil {
			c.hits.Add(1)
		}
		if c.onHit != nil {
			c.onHit(key)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry[K, V]).value, true
	}

	if c.misses != nil {
		c.misses.Add(1)
	}
	if c.onMiss != nil {
		c.onMiss(key)
	}
	return value, false
}

// Put inserts or replaces key. A replaced value is handed to the eviction
// callback.
func (c *LRUCache[K, V]) Put(key K, value V) {
	if c.capacity <= 0 {
		if c.onEvicted != nil {
			c.onEvicted(key, value)
		}
		return
	}
	c.mu.Lock()
	var evicted []*cacheEntry[K, V]
	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry[K, V])
		evicted = append(evicted, &cacheEntry[K, V]{key: key, value: entry.value})
		entry.value = value
	} else {
		evicted = c.insertLocked(key, value)
	}
	c.mu.Unlock()
	c.notify(evicted)
}

// GetOrPut returns the cached value for key if present; otherwise it
// stores value and returns it. loaded reports whether the value was
// already cached.
func (c *LRUCache[K, V]) GetOrPut(key K, value V) (actual V, loaded bool) {
	if c.capacity <= 0 {
		return value, false
	}
	c.mu.Lock()
	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		actual = elem.Value.(*cacheEntry[K, V]).value
		c.mu.Unlock()
		return actual, true
	}
	evicted := c.insertLocked(key, value)
	c.mu.Unlock()
	c.notify(evicted)
	return value, false
}

// Remove drops key without calling the eviction callback and returns the
// removed value.
func (c *LRUCache[K, V]) Remove(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cacheItems[key]
	if !ok {
		return value, false
	}
	c.lruList.Remove(elem)
	delete(c.cacheItems, key)
	return elem.Value.(*cacheEntry[K, V]).value, true
}

// insertLocked adds a new entry, evicting from the back as needed.
// Must be called with c.mu locked.
func (c *LRUCache[K, V]) insertLocked(key K, value V) []*cacheEntry[K, V] {
	var evicted []*cacheEntry[K, V]
	for c.lruList.Len() >= c.capacity {
		elem := c.lruList.Back()
		if elem == nil {
			break
		}
		removed := c.lruList.Remove(elem).(*cacheEntry[K, V])
		delete(c.cacheItems, removed.key)
		evicted = append(evicted, removed)
	}
	c.cacheItems[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value})
	return evicted
}

func (c *LRUCache[K, V]) notify(evicted []*cacheEntry[K, V]) {
	if c.onEvicted == nil {
		return
	}
	for _, e := range evicted {
		c.onEvicted(e.key, e.value)
	}
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Keys returns the cached keys, most recently used first.
func (c *LRUCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.lruList.Len())
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry[K, V]).key)
	}
	return keys
}

// Clear removes every entry, passing each to the eviction callback.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	var evicted []*cacheEntry[K, V]
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		evicted = append(evicted, e.Value.(*cacheEntry[K, V]))
	}
	c.lruList = list.New()
	c.cacheItems = make(map[K]*list.Element)
	c.mu.Unlock()
	c.notify(evicted)
}

// GetHitRate calculates the cache hit rate.
func (c *LRUCache[K, V]) GetHitRate() float64 {
	c.mu.Lock()
	hitsVar, missesVar := c.hits, c.misses
	c.mu.Unlock()

	var hits, misses float64
	if hitsVar != nil {
		hits = float64(hitsVar.Value())
	}
	if missesVar != nil {
		misses = float64(missesVar.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
