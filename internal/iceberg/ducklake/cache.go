package ducklake

import (
	"container/list"
	"sync"
)

// defaultCacheEntries bounds the manifest cache. Entries are immutable
// once built, so eviction only costs a rebuild on the next read.
const defaultCacheEntries = 4096

type cacheKey struct {
	tableID    int64
	snapshotID int64
}

// manifestCache is a small LRU over built Manifests.
type manifestCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List // front = most recent; values are cacheKey
	entries map[cacheKey]*cacheEntry
}

type cacheEntry struct {
	m    *Manifests
	elem *list.Element
}

func newManifestCache(max int) *manifestCache {
	return &manifestCache{
		max:     max,
		order:   list.New(),
		entries: make(map[cacheKey]*cacheEntry),
	}
}

func (c *manifestCache) get(tableID, snapshotID int64) (*Manifests, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey{tableID, snapshotID}]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.m, true
}

func (c *manifestCache) put(tableID, snapshotID int64, m *Manifests) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{tableID, snapshotID}
	if e, ok := c.entries[key]; ok {
		e.m = m
		c.order.MoveToFront(e.elem)
		return
	}
	elem := c.order.PushFront(key)
	c.entries[key] = &cacheEntry{m: m, elem: elem}

	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(cacheKey))
	}
}
