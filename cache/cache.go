// Package cache provides per-collection record and query-result caches with
// pluggable eviction policies and version-stamped invalidation.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Policy selects the eviction policy.
type Policy string

const (
	// PolicyLRU evicts the least recently used entry.
	PolicyLRU Policy = "lru"
	// PolicyLFU evicts the least frequently used entry.
	PolicyLFU Policy = "lfu"
	// PolicyTTL expires entries a fixed duration after they were stored,
	// regardless of access; capacity eviction is oldest first.
	PolicyTTL Policy = "ttl"
)

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLRU, PolicyLFU, PolicyTTL:
		return Policy(s), nil
	case "":
		return PolicyLRU, nil
	default:
		return "", fmt.Errorf("cache: unknown policy %q", s)
	}
}

// Options contains configuration options for a cache.
type Options struct {
	// Policy selects the eviction policy.
	Policy Policy

	// Capacity is the maximum number of entries. Zero or negative disables
	// the cache.
	Capacity int

	// TTL bounds entry age. Required for PolicyTTL; optional staleness
	// bound for the other policies. Entries past their TTL are never
	// served.
	TTL time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// DefaultOptions contains the default configuration options for a cache.
var DefaultOptions = Options{
	Policy:   PolicyLRU,
	Capacity: 1024,
}

type entry struct {
	key      string
	value    any
	storedAt time.Time
	freq     int
	elem     *list.Element // position in lru / ttl order, or the lfu bucket
}

// Cache is a bounded key-value store with LRU, LFU or TTL eviction.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry

	// lru and ttl keep one recency/insertion list. lfu keeps frequency
	// buckets and the smallest active frequency.
	order   *list.List
	buckets map[int]*list.List
	minFreq int

	hits   uint64
	misses uint64
}

// New creates a cache.
func New(optFns ...func(o *Options)) (*Cache, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Policy == PolicyTTL && opts.TTL <= 0 {
		return nil, fmt.Errorf("cache: ttl policy requires a positive TTL")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		opts:    opts,
		entries: make(map[string]*entry),
	}
	if opts.Policy == PolicyLFU {
		c.buckets = make(map[int]*list.List)
	} else {
		c.order = list.New()
	}
	return c, nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(e) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.touchLocked(e)
	c.hits++
	return e.value, true
}

// Put stores a value under key, evicting per policy at capacity.
func (c *Cache) Put(key string, value any) {
	if c.opts.Capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.storedAt = c.opts.Now()
		c.touchLocked(e)
		return
	}

	for len(c.entries) >= c.opts.Capacity {
		c.evictLocked()
	}

	e := &entry{key: key, value: value, storedAt: c.opts.Now()}
	c.entries[key] = e
	switch c.opts.Policy {
	case PolicyLFU:
		e.freq = 1
		c.bucket(1).PushBack(e)
		e.elem = c.bucket(1).Back()
		c.minFreq = 1
	case PolicyTTL:
		e.elem = c.order.PushBack(e)
	default:
		e.elem = c.order.PushFront(e)
	}
}

// Remove drops key.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	if c.opts.Policy == PolicyLFU {
		c.buckets = make(map[int]*list.List)
		c.minFreq = 0
	} else {
		c.order.Init()
	}
}

func (c *Cache) expired(e *entry) bool {
	return c.opts.TTL > 0 && c.opts.Now().Sub(e.storedAt) >= c.opts.TTL
}

func (c *Cache) bucket(freq int) *list.List {
	l, ok := c.buckets[freq]
	if !ok {
		l = list.New()
		c.buckets[freq] = l
	}
	return l
}

func (c *Cache) touchLocked(e *entry) {
	switch c.opts.Policy {
	case PolicyLFU:
		old := c.bucket(e.freq)
		old.Remove(e.elem)
		if old.Len() == 0 {
			delete(c.buckets, e.freq)
			if c.minFreq == e.freq {
				c.minFreq = e.freq + 1
			}
		}
		e.freq++
		e.elem = c.bucket(e.freq).PushBack(e)
	case PolicyTTL:
		// Fixed expiry; access does not reorder.
	default:
		c.order.MoveToFront(e.elem)
	}
}

func (c *Cache) removeLocked(e *entry) {
	switch c.opts.Policy {
	case PolicyLFU:
		if l, ok := c.buckets[e.freq]; ok {
			l.Remove(e.elem)
			if l.Len() == 0 {
				delete(c.buckets, e.freq)
			}
		}
	default:
		c.order.Remove(e.elem)
	}
	delete(c.entries, e.key)
}

func (c *Cache) evictLocked() {
	switch c.opts.Policy {
	case PolicyLFU:
		for f := c.minFreq; ; f++ {
			l, ok := c.buckets[f]
			if !ok {
				continue
			}
			victim := l.Front().Value.(*entry)
			c.minFreq = f
			c.removeLocked(victim)
			return
		}
	default:
		// lru: back is coldest; ttl: front is oldest.
		var victim *list.Element
		if c.opts.Policy == PolicyTTL {
			victim = c.order.Front()
		} else {
			victim = c.order.Back()
		}
		if victim != nil {
			c.removeLocked(victim.Value.(*entry))
		}
	}
}
