// ABOUTME: Tests for the TTL read cache.
// ABOUTME: Validates expiry, eviction order, prefix invalidation and concurrency safety.

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetMiss(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	_, ok := c.Get("never-set")
	assert.False(t, ok)
}

func TestCache_SetAndGet(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Set("tasks:u1", []string{"a", "b"})

	v, ok := c.Get("tasks:u1")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)
}

func TestCache_Expiry(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.Set("short-lived", 1)
	_, ok := c.Get("short-lived")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("short-lived")
	assert.False(t, ok)
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	c.Set("k1", 1)
	c.Set("k2", 2)
	c.Set("k3", 3)
	c.Set("k4", 4)

	_, ok := c.Get("k1")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("k4")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCache_SetRefreshesPosition(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	c.Set("k1", 1)
	c.Set("k2", 2)
	c.Set("k3", 3)
	c.Set("k1", 10) // k1 moves to the back, k2 is now oldest
	c.Set("k4", 4)

	v, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("k2")
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Set("k1", 1)
	c.Invalidate("k1")

	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Set("tasks:u1:all", 1)
	c.Set("tasks:u1:todo", 2)
	c.Set("projects:u1", 3)

	c.InvalidatePrefix("tasks:")

	_, ok := c.Get("tasks:u1:all")
	assert.False(t, ok)
	_, ok = c.Get("tasks:u1:todo")
	assert.False(t, ok)
	_, ok = c.Get("projects:u1")
	assert.True(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(5*time.Minute, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				c.Set(key, j)
				c.Get(key)
				if j%10 == 0 {
					c.InvalidatePrefix(fmt.Sprintf("key-%d-", n))
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(5*time.Minute, 100)
	c.Close()
	c.Close()
}
