package cache

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacks-ai/stacks/pkg/cache/sqlite"
	"github.com/stacks-ai/stacks/pkg/models"
)

// Fingerprint derives a stable cache key from a free-text input. Inputs that
// differ only in case or surrounding whitespace collapse to the same key.
// Optional qualifiers (lane, variant) are folded in with a ":" separator.
func Fingerprint(input string, qualifiers ...string) string {
	normalized := strings.ToLower(strings.TrimSpace(input))
	for _, q := range qualifiers {
		normalized += ":" + strings.ToLower(strings.TrimSpace(q))
	}
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum)[:16]
}

type memEntry struct {
	key     string
	data    []byte
	expires time.Time
}

// Cache is a two-tier cache: a small in-process LRU in front of a SQLite
// store. Reads check memory first, then the store, promoting persistent hits
// back into memory. Writes to the store are best-effort; a broken disk tier
// degrades to memory-only caching rather than failing requests.
type Cache struct {
	store *sqlite.Store

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxMem  int
	memTTL  time.Duration

	hits       atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Cache over the given persistent store. If sweepInterval is
// positive, a background goroutine periodically evicts expired entries from
// both tiers until Close is called.
func New(store *sqlite.Store, maxMem int, memTTL, sweepInterval time.Duration) *Cache {
	c := &Cache{
		store:   store,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxMem:  maxMem,
		memTTL:  memTTL,
		done:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(sweepInterval)
	}

	return c
}

// Get retrieves an entry, checking the memory tier first.
func (c *Cache) Get(key string) ([]byte, bool) {
	if data, ok := c.getMemory(key); ok {
		c.hits.Add(1)
		return data, true
	}

	if data, ok := c.store.Get(key); ok {
		c.putMemory(key, data)
		c.hits.Add(1)
		c.promotions.Add(1)
		return data, true
	}

	c.misses.Add(1)
	return nil, false
}

// Put stores an entry in both tiers. The memory tier uses the cache's short
// TTL; persistTTL governs the SQLite row.
func (c *Cache) Put(key string, data []byte, persistTTL time.Duration) {
	c.putMemory(key, data)
	if err := c.store.Put(key, data, persistTTL); err != nil {
		log.Printf("cache: persistent put failed for %s: %v", key, err)
	}
}

// Delete removes an entry from both tiers.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if err := c.store.Delete(key); err != nil {
		log.Printf("cache: persistent delete failed for %s: %v", key, err)
	}
}

// Clear empties both tiers.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	return c.store.Clear()
}

// Stats reports counters across both tiers.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	memEntries := len(c.entries)
	c.mu.Unlock()

	persistent, err := c.store.Count()
	if err != nil {
		log.Printf("cache: count failed: %v", err)
	}

	return models.CacheStats{
		MemoryEntries:     memEntries,
		PersistentEntries: persistent,
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
		Promotions:        c.promotions.Load(),
	}
}

// Close stops the sweep loop and closes the persistent store.
func (c *Cache) Close() error {
	close(c.done)
	c.wg.Wait()
	return c.store.Close()
}

func (c *Cache) getMemory(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.data, true
}

func (c *Cache) putMemory(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memEntry)
		entry.data = data
		entry.expires = time.Now().Add(c.memTTL)
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&memEntry{
		key:     key,
		data:    data,
		expires: time.Now().Add(c.memTTL),
	})

	for c.maxMem > 0 && c.order.Len() > c.maxMem {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memEntry).key)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()

	c.mu.Lock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*memEntry)
		if now.After(entry.expires) {
			c.order.Remove(el)
			delete(c.entries, entry.key)
		}
		el = prev
	}
	c.mu.Unlock()

	if removed, err := c.store.Purge(); err != nil {
		log.Printf("cache: sweep purge failed: %v", err)
	} else if removed > 0 {
		log.Printf("cache: sweep removed %d expired entries", removed)
	}
}
