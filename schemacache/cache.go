// Package schemacache memoizes artifacts compiled from shapes: registries,
// mappings, API schemas and transformers. Entries are keyed by shape id and
// version, so a new shape version never sees stale output; Invalidate drops
// the superseded versions.
package schemacache

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies one compiled artifact.
type Key struct {
	ShapeID string
	Version int64
	// Variant distinguishes artifacts compiled from the same shape version.
	Variant string
}

func (k Key) String() string {
	return k.ShapeID + "@" + strconv.FormatInt(k.Version, 10) + "/" + k.Variant
}

// Cache is a concurrent memo of compiled values. Concurrent misses for the
// same key share one compilation.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[Key]V
	group   singleflight.Group
}

// New returns an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[Key]V)}
}

// Get returns the cached value for k, compiling it with fn on a miss. Errors
// are not cached.
func (c *Cache[V]) Get(k Key, fn func() (V, error)) (V, error) {
	c.mu.RLock()
	v, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	res, err, _ := c.group.Do(k.String(), func() (any, error) {
		c.mu.RLock()
		v, ok := c.entries[k]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.entries[k] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Peek returns a cached value without compiling.
func (c *Cache[V]) Peek(k Key) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[k]
	return v, ok
}

// Invalidate drops every entry of shapeID.
func (c *Cache[V]) Invalidate(shapeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.ShapeID == shapeID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateBefore drops entries of shapeID older than version.
func (c *Cache[V]) InvalidateBefore(shapeID string, version int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.ShapeID == shapeID && k.Version < version {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
