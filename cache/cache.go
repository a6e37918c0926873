// Package cache is a small LRU cache with per-entry TTLs. The gateway client
// uses it to absorb bursts of status checks for the same instance.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type entry struct {
	key       string
	value     interface{}
	timestamp time.Time
	ttl       time.Duration
}

// Cache is a capacity-bounded LRU with TTL expiry.
type Cache struct {
	items     map[string]*list.Element
	evictList *list.List
	mutex     sync.Mutex
	capacity  int
	ctx       context.Context
	cancel    context.CancelFunc
	sweepTTL  time.Duration
}

var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_cache_hits_total",
		Help: "Total number of status cache hits",
	})
	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_cache_misses_total",
		Help: "Total number of status cache misses",
	})
	size = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "status_cache_size",
		Help: "Current number of entries in the status cache",
	})
)

// New creates a cache holding at most capacity entries.
func New(capacity int) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		capacity:  capacity,
		ctx:       ctx,
		cancel:    cancel,
		sweepTTL:  time.Minute,
	}
	go c.startSweep()
	return c
}

// Get returns the cached value if present and not expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	element, exists := c.items[key]
	if !exists {
		misses.Inc()
		return nil, false
	}
	e := element.Value.(*entry)
	if e.ttl > 0 && time.Since(e.timestamp) > e.ttl {
		c.evictElement(element)
		misses.Inc()
		return nil, false
	}
	c.evictList.MoveToFront(element)
	hits.Inc()
	return e.value, true
}

// Set stores a value under key with the given TTL, evicting the least
// recently used entry when over capacity.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[key]; exists {
		c.evictList.MoveToFront(element)
		e := element.Value.(*entry)
		e.value = value
		e.timestamp = time.Now()
		e.ttl = ttl
		return
	}

	element := c.evictList.PushFront(&entry{
		key:       key,
		value:     value,
		timestamp: time.Now(),
		ttl:       ttl,
	})
	c.items[key] = element
	size.Inc()

	if c.evictList.Len() > c.capacity {
		if back := c.evictList.Back(); back != nil {
			c.evictElement(back)
		}
	}
}

// Remove drops a key, if present.
func (c *Cache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[key]; exists {
		c.evictElement(element)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.evictList.Len()
}

// Stop terminates the background sweep goroutine.
func (c *Cache) Stop() {
	c.cancel()
}

func (c *Cache) evictElement(element *list.Element) {
	c.evictList.Remove(element)
	e := element.Value.(*entry)
	delete(c.items, e.key)
	size.Dec()
}

func (c *Cache) startSweep() {
	ticker := time.NewTicker(c.sweepTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for _, element := range c.items {
		e := element.Value.(*entry)
		if e.ttl > 0 && now.Sub(e.timestamp) > e.ttl {
			c.evictElement(element)
		}
	}
}
