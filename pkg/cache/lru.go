// Package cache keeps recent anomaly fetches in memory so that panels
// rendering the same detector and range share one cluster round trip.
package cache

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
)

// DefaultMaxRecords is the default capacity, counted in anomaly records.
const DefaultMaxRecords = 100000

// DefaultTTL bounds how stale a cached fetch may be. Real-time detectors
// write new results every interval, so entries must not live long.
const DefaultTTL = 30 * time.Second

// Key identifies one fetch.
type Key struct {
	DetectorID string
	StartMs    int64
	EndMs      int64
}

// ResultCache is an LRU of fetch results with size-aware eviction and a TTL.
// Sizes are counted in records; an empty result costs one.
type ResultCache struct {
	mu          sync.Mutex
	entries     map[Key]*lruEntry
	head        *lruEntry // Most recently used.
	tail        *lruEntry // Least recently used.
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	now         func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry struct {
	key         Key
	records     []adclient.Record
	size        int64
	accessCount int64
	storedAt    time.Time
	prev        *lruEntry
	next        *lruEntry
}

// evictionCost is high for small, often read entries. Large, rarely read
// results go first.
func (e *lruEntry) evictionCost() float64 {
	return float64(e.accessCount) / float64(e.size)
}

// NewResultCache creates a cache holding up to maxRecords records for at most
// ttl each. Non-positive arguments use the defaults.
func NewResultCache(maxRecords int64, ttl time.Duration) *ResultCache {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &ResultCache{
		entries: make(map[Key]*lruEntry),
		maxSize: maxRecords,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached records for key.
func (c *ResultCache) Get(key Key) ([]adclient.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.storedAt) > c.ttl {
		c.remove(entry)

		ok = false
	}

	if !ok {
		c.misses.Add(1)

		return nil, false
	}

	c.hits.Add(1)

	entry.accessCount++
	c.moveToFront(entry)

	return slices.Clone(entry.records), true
}

// Put stores a copy of records under key, replacing any previous value.
// Results larger than the whole cache are not stored.
func (c *ResultCache) Put(key Key, records []adclient.Record) {
	size := max(int64(len(records)), 1)
	if size > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}

	for c.currentSize+size > c.maxSize && c.tail != nil {
		c.evictLowestCost()
	}

	entry := &lruEntry{
		key:         key,
		records:     slices.Clone(records),
		size:        size,
		accessCount: 1,
		storedAt:    c.now(),
	}

	c.entries[key] = entry
	c.currentSize += size
	c.addToFront(entry)
}

// Stats returns cache statistics.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Entries:     len(c.entries),
		CurrentSize: c.currentSize,
		MaxSize:     c.maxSize,
	}
}

// Stats holds cache performance metrics.
type Stats struct {
	Hits        int64
	Misses      int64
	Entries     int
	CurrentSize int64
	MaxSize     int64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}

	return float64(s.Hits) / float64(total)
}

// Clear removes all entries from the cache.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*lruEntry)
	c.head = nil
	c.tail = nil
	c.currentSize = 0
}

func (c *ResultCache) remove(entry *lruEntry) {
	c.removeFromList(entry)
	delete(c.entries, entry.key)
	c.currentSize -= entry.size
}

func (c *ResultCache) moveToFront(entry *lruEntry) {
	if entry == c.head {
		return
	}

	c.removeFromList(entry)
	c.addToFront(entry)
}

func (c *ResultCache) addToFront(entry *lruEntry) {
	entry.prev = nil
	entry.next = c.head

	if c.head != nil {
		c.head.prev = entry
	}

	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *ResultCache) removeFromList(entry *lruEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}

	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}
}

// evictionSampleSize is the number of LRU candidates sampled per eviction.
const evictionSampleSize = 5

// evictLowestCost removes the cheapest of the evictionSampleSize least
// recently used entries.
func (c *ResultCache) evictLowestCost() {
	if c.tail == nil {
		return
	}

	victim := c.tail
	lowestCost := victim.evictionCost()

	entry := c.tail.prev
	for i := 1; entry != nil && i < evictionSampleSize; i++ {
		if cost := entry.evictionCost(); cost < lowestCost {
			lowestCost = cost
			victim = entry
		}

		entry = entry.prev
	}

	c.remove(victim)
}
