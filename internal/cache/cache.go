// Package cache is a small process-wide map guarded by a RWMutex. It holds
// immutable derived data such as parsed fonts; ledger state is never cached.
package cache

import "sync"

type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	store map[K]V
}

func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		store: make(map[K]V),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.store[key]
	return val, ok
}

// GetOrLoad returns the cached value for key, calling load on a miss. A
// failed load is not cached so a later call retries it.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.store[key]; ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.store[key] = v
	return v, nil
}
