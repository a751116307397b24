package engine

import (
	"sync"
)

type cacheKey struct {
	capability CapabilityID
	targetID   string
}

// Cache is the per-process resolution memo table keyed by (capability,
// target identity). Entries live for the lifetime of the target: tearing a
// target down invalidates all of its entries wholesale, and a redeployed
// host presents a new identity so stale entries can never match. Nothing is
// persisted across process restarts.
//
// Each key also owns a mutex serializing concurrent resolutions of the same
// (capability, target) pair: the first caller does the work, later callers
// block and then hit the populated entry.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Resolved
	keyMu   map[cacheKey]*sync.Mutex
}

// NewCache creates an empty resolution cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]*Resolved),
		keyMu:   make(map[cacheKey]*sync.Mutex),
	}
}

// Get returns the cached resolution for a (capability, target) pair.
func (c *Cache) Get(cap CapabilityID, targetID string) (*Resolved, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[cacheKey{cap, targetID}]
	return r, ok
}

// Put stores a fully constructed resolution. Partial results are never
// stored: a cache miss always recomputes everything from scratch.
func (c *Cache) Put(r *Resolved) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{r.Descriptor.Capability, r.Target.ID()}] = r
}

// keyLock returns the per-key mutex, creating it on first use.
func (c *Cache) keyLock(cap CapabilityID, targetID string) *sync.Mutex {
	key := cacheKey{cap, targetID}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.keyMu[key]
	if !ok {
		m = &sync.Mutex{}
		c.keyMu[key] = m
	}
	return m
}

// InvalidateTarget drops every entry bound to a target. Used when the
// remote context is torn down.
func (c *Cache) InvalidateTarget(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.targetID == targetID {
			delete(c.entries, key)
		}
	}
	for key := range c.keyMu {
		if key.targetID == targetID {
			delete(c.keyMu, key)
		}
	}
}

// Len returns the number of cached resolutions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
