// Package cache provides the show statistics cache. Values are stored as JSON
// so that every backend hands callers an independent copy.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store is a key/value cache with a fixed time to live.
type Store interface {
	// Get decodes the cached value into dst. It reports false on a miss.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
	// Name identifies the backend in metrics.
	Name() string
	Close() error
}

// Memory is an in-process cache with LRU eviction.
type Memory struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front is most recently used
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemory creates a cache with the specified capacity and TTL. A capacity
// of zero or less means unbounded.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves an item from the cache.
func (c *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.mu.Unlock()
		return false, nil
	}
	c.order.MoveToFront(el)
	data := e.value
	c.mu.Unlock()

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// Set stores an item in the cache.
func (c *Memory) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = data
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.items[key] = c.order.PushFront(&entry{key: key, value: data, expiresAt: expiresAt})
	return nil
}

// Delete removes items from the cache.
func (c *Memory) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
	}
	return nil
}

// Len returns the number of items in the cache, including expired ones not
// yet removed.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CleanupExpired removes all expired items from the cache.
func (c *Memory) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Name implements Store.
func (c *Memory) Name() string { return "memory" }

// Close implements Store.
func (c *Memory) Close() error { return nil }

func (c *Memory) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// Nop is a Store that never holds anything.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, any) error         { return nil }
func (Nop) Delete(context.Context, ...string) error        { return nil }
func (Nop) Name() string                                   { return "none" }
func (Nop) Close() error                                   { return nil }

var (
	_ Store = (*Memory)(nil)
	_ Store = Nop{}
)
