package recurrence

import (
	"sort"
	"sync"
	"time"

	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CacheConfig holds configuration for the occurrence cache.
type CacheConfig struct {
	TTL             time.Duration // how long entries stay valid
	MaxEntries      int           // total entries before eviction
	CleanupInterval time.Duration // how often expired entries are swept
}

// DefaultCacheConfig provides defaults for occurrence caching.
var DefaultCacheConfig = CacheConfig{
	TTL:             5 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: time.Minute,
}

type cacheKey struct {
	version  int64
	from, to int64
}

type cacheEntry struct {
	occ        []model.Occurrence
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache memoizes expansions keyed by (event, version, window). Entries of an event are
// dropped by Invalidate on every write to that event. It only saves latency: a miss
// recomputes the same result.
type Cache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]map[cacheKey]*cacheEntry
	size    int
	cfg     CacheConfig
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewCache creates a cache and starts its cleanup goroutine; call Close to stop it.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	c := &Cache{
		entries: make(map[uuid.UUID]map[cacheKey]*cacheEntry),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Get returns cached occurrences of ev over [from, to).
func (c *Cache) Get(ev model.Event, from, to time.Time) ([]model.Occurrence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ev.ID][keyFor(ev, from, to)]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(e.expiresAt) {
		c.remove(ev.ID, keyFor(ev, from, to))
		return nil, false
	}
	e.accessedAt = now
	return e.occ, true
}

// Set stores occurrences of ev over [from, to).
func (c *Cache) Set(ev model.Event, from, to time.Time, occ []model.Occurrence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	m, ok := c.entries[ev.ID]
	if !ok {
		m = make(map[cacheKey]*cacheEntry)
		c.entries[ev.ID] = m
	}
	k := keyFor(ev, from, to)
	if _, exists := m[k]; !exists {
		c.size++
	}
	m[k] = &cacheEntry{occ: occ, expiresAt: now.Add(c.cfg.TTL), accessedAt: now}
	if c.size > c.cfg.MaxEntries {
		c.cleanup()
	}
}

// Invalidate drops every entry of eventID.
func (c *Cache) Invalidate(eventID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size -= len(c.entries[eventID])
	delete(c.entries, eventID)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
	c.mu.Lock()
	c.entries = make(map[uuid.UUID]map[cacheKey]*cacheEntry)
	c.size = 0
	c.mu.Unlock()
}

func keyFor(ev model.Event, from, to time.Time) cacheKey {
	return cacheKey{version: ev.Version, from: from.UnixNano(), to: to.UnixNano()}
}

func (c *Cache) remove(id uuid.UUID, k cacheKey) {
	m := c.entries[id]
	if _, ok := m[k]; !ok {
		return
	}
	delete(m, k)
	c.size--
	if len(m) == 0 {
		delete(c.entries, id)
	}
}

// cleanup removes expired entries, then the least recently accessed ones while over the limit.
func (c *Cache) cleanup() {
	now := c.now()
	type ref struct {
		id         uuid.UUID
		key        cacheKey
		accessedAt time.Time
	}
	var live []ref
	for id, m := range c.entries {
		for k, e := range m {
			if now.After(e.expiresAt) {
				c.remove(id, k)
				continue
			}
			live = append(live, ref{id: id, key: k, accessedAt: e.accessedAt})
		}
	}
	if c.size <= c.cfg.MaxEntries {
		return
	}
	sort.Slice(live, func(i, j int) bool { return live[i].accessedAt.Before(live[j].accessedAt) })
	for i := 0; c.size > c.cfg.MaxEntries && i < len(live); i++ {
		c.remove(live[i].id, live[i].key)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.cleanup()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
