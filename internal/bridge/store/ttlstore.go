// Package store provides a small generic in-memory cache with TTL
// expiry, used for read-through caching of account lookups.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache maps keys to values with per-entry expiry. Expired entries
// are dropped lazily on access and swept by a background loop.
type TTLCache[K comparable, V any] struct {
	mu     sync.RWMutex
	items  map[K]entry[V]
	stopCh chan struct{}
}

// NewTTLCache starts a cache whose sweep loop runs every interval.
func NewTTLCache[K comparable, V any](sweepInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		items:  make(map[K]entry[V]),
		stopCh: make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Set stores a value for ttl.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get returns the value and true when present and unexpired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes a key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of unexpired entries.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, e := range c.items {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Stop terminates the sweep loop.
func (c *TTLCache[K, V]) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func (c *TTLCache[K, V]) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if now.After(e.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
