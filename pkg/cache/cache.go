package cache

import (
	"sync"
	"time"
)

// Cache is a TTL key-value cache.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Clear()
	Size() int
}

// InMemory is a map-backed TTL cache. Expired entries are invisible to
// Get immediately and reaped by a background sweep.
type InMemory[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]item[V]
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemory creates a cache whose Set calls with ttl zero fall back to
// defaultTTL. Close stops the sweeper.
func NewInMemory[K comparable, V any](defaultTTL time.Duration) *InMemory[K, V] {
	c := &InMemory[K, V]{
		items:      make(map[K]item[V]),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the live value for key.
func (c *InMemory[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores value under key for ttl (or the default when ttl is zero).
func (c *InMemory[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes key.
func (c *InMemory[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes everything.
func (c *InMemory[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]item[V])
}

// Size counts stored entries, expired ones included until swept.
func (c *InMemory[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background sweeper.
func (c *InMemory[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemory[K, V]) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		now := time.Now()
		c.mu.Lock()
		for k, it := range c.items {
			if now.After(it.expiresAt) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}
