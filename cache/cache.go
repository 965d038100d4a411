// Package cache provides the bounded response cache: an in-process LRU with
// TTL expiry, an optional Redis-backed remote tier, and the deterministic
// key strategy shared by every caller.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
)

// Cache is the response cache contract. Eviction and expiry are observable
// only through subsequent miss behavior.
type Cache interface {
	Get(ctx context.Context, key string) (types.Value, bool)
	Put(ctx context.Context, key string, value types.Value)
	Len() int
}

type entry struct {
	key        string
	value      types.Value
	createdAt  time.Time
	lastAccess time.Time
	prev, next *entry
}

// LRU is a bounded in-process cache. Get treats entries older than the TTL
// as misses and evicts them; hits move the entry to the most-recently-used
// position. Put evicts the least-recently-used entry at capacity.
type LRU struct {
	capacity int
	ttl      time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	items map[string]*entry
	head  *entry // most recently used
	tail  *entry // least recently used
}

// NewLRU creates a bounded cache. A ttl of zero disables expiry.
func NewLRU(capacity int, ttl time.Duration, logger *zap.Logger) *LRU {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "cache")),
		items:    make(map[string]*entry, capacity),
	}
}

// Get returns the cached value, treating expired entries as misses.
func (c *LRU) Get(_ context.Context, key string) (types.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return types.Null(), false
	}

	now := time.Now()
	if c.ttl > 0 && now.Sub(e.createdAt) > c.ttl {
		c.remove(e)
		return types.Null(), false
	}

	e.lastAccess = now
	c.moveToHead(e)
	return e.value, true
}

// Put inserts or refreshes a value, evicting the LRU entry at capacity.
func (c *LRU) Put(_ context.Context, key string, value types.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.createdAt = now
		e.lastAccess = now
		c.moveToHead(e)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	e := &entry{key: key, value: value, createdAt: now, lastAccess: now}
	c.items[key] = e
	c.pushHead(e)
}

// Len returns the current entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) pushHead(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRU) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *LRU) moveToHead(e *entry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushHead(e)
}

func (c *LRU) remove(e *entry) {
	c.unlink(e)
	delete(c.items, e.key)
}

func (c *LRU) evictTail() {
	if c.tail == nil {
		return
	}
	evicted := c.tail
	c.remove(evicted)
	c.logger.Debug("evicted least recently used entry", zap.String("key", evicted.key))
}
