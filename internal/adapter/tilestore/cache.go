package tilestore

import (
	"context"
	"sync"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
	"github.com/couchcryptid/wind-tile-service/internal/observability"
)

// CachedReader wraps a Reader with an in-memory LRU of tile bytes. Entries are
// keyed by release, so a swap never serves bytes from the old tree.
type CachedReader struct {
	*Reader
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedReader creates a cache decorator around a reader. maxEntries of
// zero disables caching.
func NewCachedReader(inner *Reader, maxEntries int, metrics *observability.Metrics) *CachedReader {
	return &CachedReader{
		Reader:  inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedReader) Tile(ctx context.Context, key domain.TileKey) (Tile, error) {
	rel, err := c.Current()
	if err != nil {
		return Tile{}, err
	}
	if data, ok := c.cache.get(rel.ID + "|" + key.String()); ok {
		c.metrics.TileCache.WithLabelValues("hit").Inc()
		return Tile{ReleaseID: rel.ID, Data: data}, nil
	}
	c.metrics.TileCache.WithLabelValues("miss").Inc()

	t, err := c.Reader.Tile(ctx, key)
	if err != nil {
		return t, err
	}
	c.cache.put(t.ReleaseID+"|"+key.String(), t.Data)
	return t, nil
}

// lruCache is a simple thread-safe LRU cache of tile payloads.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value []byte
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []byte) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
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
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
