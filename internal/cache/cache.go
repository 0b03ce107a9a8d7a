// ABOUTME: Thread-safe TTL cache for read-heavy query results.
// ABOUTME: Used by the CLI's listing paths to avoid re-reading unchanged data.

package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// entry stores one cached value with its write time and list element.
type entry struct {
	value     any
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited value cache. A write past
// capacity evicts the oldest entry; O(1) eviction via a doubly-linked list.
type Cache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum entry count. A
// background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		items:   make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached value and whether it exists and is fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Since(e.timestamp) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry at capacity.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[key]; exists {
		e.value = value
		e.timestamp = time.Now()
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.items[key] = &entry{
		value:     value,
		timestamp: time.Now(),
		element:   elem,
	}
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.order.Remove(e.element)
		delete(c.items, key)
	}
}

// InvalidatePrefix drops every key with the given prefix. Used after a write
// to clear all cached listings of the touched entity.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(e.element)
			delete(c.items, key)
		}
	}
}

// Len returns the number of entries, including any not yet swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.items, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.items {
		if now.Sub(e.timestamp) > c.ttl {
			c.order.Remove(e.element)
			delete(c.items, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
