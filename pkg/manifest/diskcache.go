package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/chazu/ordinal/pkg/metrics"
)

const (
	// DefaultMaxEntries is the default maximum number of cached documents
	DefaultMaxEntries = 100

	// DefaultTTL is the default time-to-live for cached documents
	DefaultTTL = 24 * time.Hour

	// indexFile holds the persisted cache index
	indexFile = "index.json"
)

// ErrCacheMiss is returned by DiskCache.Get when no usable entry exists
var ErrCacheMiss = errors.New("cache miss")

// DiskCache is a persistent LRU cache for fetched remote documents. Entries
// live as files in one directory; the index survives restarts.
type DiskCache struct {
	mu sync.Mutex

	dir        string
	maxEntries int
	ttl        time.Duration

	// entries are kept least recently used first
	entries *orderedmap.OrderedMap[string, *CacheEntry]
}

// CacheEntry describes one cached document
type CacheEntry struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	AccessedAt time.Time `json:"accessedAt"`
}

type cacheIndex struct {
	Version string       `json:"version"`
	Entries []CacheEntry `json:"entries"`
}

// CacheStats summarizes the cache contents
type CacheStats struct {
	Entries    int
	MaxEntries int
	TotalSize  int64
}

// NewDiskCache opens or creates a cache in dir with default limits
func NewDiskCache(dir string) (*DiskCache, error) {
	return NewDiskCacheWithConfig(dir, DefaultMaxEntries, DefaultTTL)
}

// NewDiskCacheWithConfig opens or creates a cache in dir. Expired or missing
// entries in a persisted index are dropped on load.
func NewDiskCacheWithConfig(dir string, maxEntries int, ttl time.Duration) (*DiskCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is empty")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	c := &DiskCache{
		dir:        dir,
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    orderedmap.New[string, *CacheEntry](),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the cached content for key. Expired entries are removed and
// reported as misses.
func (c *DiskCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		metrics.RecordFetchCache("miss")
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	if time.Since(entry.CreatedAt) > c.ttl {
		c.remove(key)
		metrics.RecordFetchCache("miss")
		return nil, fmt.Errorf("%w: %s expired", ErrCacheMiss, key)
	}

	content, err := os.ReadFile(c.path(key))
	if err != nil {
		c.remove(key)
		metrics.RecordFetchCache("miss")
		return nil, fmt.Errorf("%w: %s: %w", ErrCacheMiss, key, err)
	}

	entry.AccessedAt = time.Now()
	_ = c.entries.MoveToBack(key)
	metrics.RecordFetchCache("hit")
	return content, nil
}

// Set stores content under key, evicting the least recently used entries
// when the cache is full
func (c *DiskCache) Set(key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, ok := c.entries.Get(key); ok {
		entry.Size = int64(len(content))
		entry.AccessedAt = now
		_ = c.entries.MoveToBack(key)
	} else {
		for c.entries.Len() >= c.maxEntries {
			oldest := c.entries.Oldest()
			c.remove(oldest.Key)
			metrics.RecordFetchCache("eviction")
		}
		c.entries.Set(key, &CacheEntry{Key: key, Size: int64(len(content)), CreatedAt: now, AccessedAt: now})
	}

	if err := os.WriteFile(c.path(key), content, 0o644); err != nil {
		c.remove(key)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.updateStats()
	return c.save()
}

// Delete removes key from the cache
func (c *DiskCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	c.updateStats()
	return c.save()
}

// Prune removes every expired entry
func (c *DiskCache) Prune() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if time.Since(pair.Value.CreatedAt) > c.ttl {
			expired = append(expired, pair.Key)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	for _, key := range expired {
		c.remove(key)
	}
	c.updateStats()
	return c.save()
}

// Clear removes every entry and its file
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if err := os.Remove(c.path(pair.Key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove cache file for %s: %w", pair.Key, err)
		}
	}
	c.entries = orderedmap.New[string, *CacheEntry]()
	c.updateStats()
	return c.save()
}

// Len returns the number of entries
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns the current cache statistics
func (c *DiskCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats()
}

func (c *DiskCache) stats() CacheStats {
	stats := CacheStats{Entries: c.entries.Len(), MaxEntries: c.maxEntries}
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		stats.TotalSize += pair.Value.Size
	}
	return stats
}

func (c *DiskCache) updateStats() {
	stats := c.stats()
	metrics.UpdateFetchCacheStats(stats.Entries, stats.TotalSize)
}

// path names content files by key hash so any key is filesystem-safe
func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x.doc", xxhash.Sum64String(key)))
}

// remove drops key and its file. Caller holds mu.
func (c *DiskCache) remove(key string) {
	if _, ok := c.entries.Delete(key); ok {
		_ = os.Remove(c.path(key))
	}
}

func (c *DiskCache) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}

	var index cacheIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse cache index: %w", err)
	}

	for _, entry := range index.Entries {
		if time.Since(entry.CreatedAt) > c.ttl {
			_ = os.Remove(c.path(entry.Key))
			continue
		}
		if _, err := os.Stat(c.path(entry.Key)); err != nil {
			continue
		}
		e := entry
		c.entries.Set(e.Key, &e)
	}
	return nil
}

// save writes the index atomically. Caller holds mu.
func (c *DiskCache) save() error {
	index := cacheIndex{Version: "v1", Entries: make([]CacheEntry, 0, c.entries.Len())}
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		index.Entries = append(index.Entries, *pair.Value)
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	path := filepath.Join(c.dir, indexFile)
	if err := os.WriteFile(path+".tmp", data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("failed to replace cache index: %w", err)
	}
	return nil
}
