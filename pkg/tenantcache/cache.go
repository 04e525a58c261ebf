// Package tenantcache implements the fixed-capacity LRU cache mapping a
// hashed API key to its resolved tenant.Context (C2). No third-party LRU
// package appears anywhere in the retrieval pack, so this is a hand-rolled
// container/list-backed LRU in the style of the teacher's other hand-rolled
// in-memory structures (see internal/audit's ring buffer) rather than a
// stdlib fallback of convenience.
package tenantcache

import (
	"container/list"
	"sync"

	"github.com/google/uuid"

	"github.com/wisbric/promptgate/internal/telemetry"
	"github.com/wisbric/promptgate/pkg/tenant"
)

// DefaultCapacity is the spec-mandated default cache size (§4.2).
const DefaultCapacity = 1000

type entry struct {
	keyHash  string
	tenantID uuid.UUID
	value    *tenant.Context
}

// Cache is a strict-LRU, mutex-protected map from a hashed API key to a
// resolved tenant.Context. It never stores the raw key, only its hash. LRU
// order is touched on both Get and Set; there is no TTL (§4.2).
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

// New creates a Cache with the given capacity. A capacity <= 0 falls back
// to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached context for keyHash and moves it to the front of
// the LRU list. The bool reports whether it was found.
func (c *Cache) Get(keyHash string) (*tenant.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[keyHash]
	if !ok {
		telemetry.TenantCacheMissesTotal.Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	telemetry.TenantCacheHitsTotal.Inc()
	return el.Value.(*entry).value, true
}

// Set inserts or updates the cached context for keyHash, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Set(keyHash string, tenantID uuid.UUID, value *tenant.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[keyHash]; ok {
		el.Value.(*entry).value = value
		el.Value.(*entry).tenantID = tenantID
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{keyHash: keyHash, tenantID: tenantID, value: value})
	c.items[keyHash] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).keyHash)
		}
	}
}

// Invalidate removes a single cached entry by key hash.
func (c *Cache) Invalidate(keyHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[keyHash]; ok {
		c.ll.Remove(el)
		delete(c.items, keyHash)
	}
}

// InvalidateAllForTenant removes every cached entry belonging to tenantID.
// This is an O(n) scan over the cache; invalidation is rare relative to
// lookups so this trades a simple implementation for a cheap write path.
func (c *Cache) InvalidateAllForTenant(tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, el := range c.items {
		if el.Value.(*entry).tenantID == tenantID {
			c.ll.Remove(el)
			delete(c.items, hash)
		}
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
