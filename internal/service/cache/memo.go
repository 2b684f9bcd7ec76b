package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	v   V
	exp time.Time
}

// Memo is a concurrency-safe map of computed values with optional expiry.
type Memo[K comparable, V any] struct {
	mu  sync.RWMutex
	m   map[K]entry[V]
	now func() time.Time
}

func NewMemo[K comparable, V any]() *Memo[K, V] {
	return &Memo[K, V]{m: make(map[K]entry[V]), now: time.Now}
}

func (c *Memo[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.v, true
}

// Set stores v. ttl <= 0 keeps it until Delete.
func (c *Memo[K, V]) Set(key K, v V, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry[V]{v: v, exp: exp}
	c.mu.Unlock()
}

// GetOrCompute returns the cached value or stores the result of fn.
// Concurrent callers for a missing key may both run fn; the last one wins.
func (c *Memo[K, V]) GetOrCompute(key K, fn func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := fn()
	c.Set(key, v, 0)
	return v
}

func (c *Memo[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// DeleteExpired drops entries whose ttl has passed and reports how many.
func (c *Memo[K, V]) DeleteExpired() int {
	now := c.now()
	n := 0
	c.mu.Lock()
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
			n++
		}
	}
	c.mu.Unlock()
	return n
}

func (c *Memo[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
