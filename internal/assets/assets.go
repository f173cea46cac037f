// Package assets serves files referenced by models from a stack of GRF
// archives, caching what it has read.
package assets

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/Faultbox/scenekit/pkg/encoding"
	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/grf"
)

// DefaultCacheBytes bounds the cache when no size is given.
const DefaultCacheBytes = 64 << 20

// Manager resolves names against its archives. It implements
// formats.Resolver and is safe for concurrent use.
type Manager struct {
	archives []*grf.Archive
	cache    *Cache
	mu       sync.RWMutex
}

// NewManager creates a manager whose cache holds up to cacheBytes.
// Zero selects DefaultCacheBytes; a negative size disables caching.
func NewManager(cacheBytes int64) *Manager {
	if cacheBytes == 0 {
		cacheBytes = DefaultCacheBytes
	}
	return &Manager{cache: NewCache(cacheBytes)}
}

// AddArchive opens a GRF archive and adds it to the manager.
// Archives are searched in reverse order (last added = highest priority).
func (m *Manager) AddArchive(path string) error {
	archive, err := grf.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}
	m.Add(archive)
	return nil
}

// Add adds an open archive. The manager closes it on Close.
func (m *Manager) Add(archive *grf.Archive) {
	m.mu.Lock()
	m.archives = append(m.archives, archive)
	m.mu.Unlock()
}

// Len returns the number of archives.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archives)
}

// Load reads a file from the highest-priority archive containing it.
func (m *Manager) Load(path string) ([]byte, error) {
	key := encoding.NormalizePath(path)
	if data, ok := m.cache.Get(key); ok {
		return data, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for i := len(m.archives) - 1; i >= 0; i-- {
		data, err := m.archives[i].Read(path)
		if err == nil {
			m.cache.Set(key, data)
			return data, nil
		}
		if firstErr == nil && !errors.Is(err, grf.ErrNotFound) {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", formats.ErrReferenceUnresolved, path, firstErr)
	}
	return nil, fmt.Errorf("%w: %s: not in any archive", formats.ErrReferenceUnresolved, path)
}

// Resolve implements formats.Resolver.
func (m *Manager) Resolve(name string) ([]byte, error) {
	return m.Load(name)
}

// Contains reports whether any archive holds path.
func (m *Manager) Contains(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.archives {
		if a.Contains(path) {
			return true
		}
	}
	return false
}

// Cache returns the manager's cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Close closes all archives.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, archive := range m.archives {
		err = multierr.Append(err, archive.Close())
	}
	m.archives = nil
	m.cache.Clear()
	return err
}

// Cache is a byte-bounded in-memory cache. When full, the oldest entries
// are evicted first.
type Cache struct {
	maxBytes int64

	mu    sync.Mutex
	data  map[string][]byte
	order []string
	size  int64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache holding up to maxBytes. A non-positive size
// caches nothing.
func NewCache(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		data:     make(map[string][]byte),
	}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	data, ok := c.data[key]
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return data, ok
}

// Set stores an item in cache. Items larger than the cache are ignored.
func (c *Cache) Set(key string, data []byte) {
	n := int64(len(data))
	if n > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.data[key]; ok {
		c.size -= int64(len(old))
		c.data[key] = data
		c.size += n
		return
	}
	for c.size+n > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.size -= int64(len(c.data[oldest]))
		delete(c.data, oldest)
	}
	c.data[key] = data
	c.order = append(c.order, key)
	c.size += n
}

// Size returns the number of cached bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.order = nil
	c.size = 0
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	return int(c.hits.Load()), int(c.misses.Load())
}
