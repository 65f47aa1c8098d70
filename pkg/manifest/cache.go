package manifest

import (
	"sync"
)

// Cache provides thread-safe caching of decoded manifests keyed by content
// digest. Cached manifests are shared and must not be modified.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*Manifest
}

// NewCache creates a new cache instance
func NewCache() *Cache {
	return &Cache{
		items: make(map[string]*Manifest),
	}
}

// Get retrieves a manifest from the cache
func (c *Cache) Get(digest string) (*Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, found := c.items[digest]
	return m, found
}

// Set stores a manifest in the cache
func (c *Cache) Set(digest string, m *Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[digest] = m
}

// Delete removes a manifest from the cache
func (c *Cache) Delete(digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, digest)
}

// Clear removes all manifests from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*Manifest)
}

// Size returns the number of cached manifests
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}
