package cache

import "expvar"

// Interface defines the public API for a generic cache.
type Interface[K comparable, V any] interface {
	Put(key K, value V)
	Get(key K) (value V, ok bool)
	GetOrPut(key K, value V) (actual V, loaded bool)
	Remove(key K) (value V, ok bool)
	Keys() []K
	Clear()
	GetHitRate() float64
	SetMetrics(hits, misses *expvar.Int)
	Len() int
}

var _ Interface[string, int] = (*LRUCache[string, int])(nil)
