package cache

import (
	"sync"
	"time"
)

// Item is a cached value with an optional expiry in Unix nanoseconds.
type Item struct {
	Value      any
	Expiration int64
	storedAt   int64
}

// Expired checks if the cache item has expired
func (item Item) Expired(now int64) bool {
	return item.Expiration > 0 && now > item.Expiration
}

// Options configures a Cache. Zero values disable the corresponding feature.
type Options struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
	OnEvicted       func(key string, value any)
}

// Cache is a thread-safe in-memory cache with expiration
type Cache struct {
	mu        sync.RWMutex
	items     map[string]Item
	opts      Options
	stop      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// New creates a cache. When CleanupInterval is positive a janitor goroutine
// purges expired entries until Close is called.
func New(opts Options) *Cache {
	c := &Cache{
		items: make(map[string]Item),
		opts:  opts,
		stop:  make(chan struct{}),
		now:   time.Now,
	}

	if opts.CleanupInterval > 0 {
		go c.janitor(opts.CleanupInterval)
	}

	return c
}

// Set adds an item to the cache with the default expiration
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.opts.DefaultTTL)
}

// SetWithTTL adds an item with a specific lifetime; ttl <= 0 never expires.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	now := c.now()
	var exp int64
	if ttl > 0 {
		exp = now.Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldest()
	}

	c.items[key] = Item{Value: value, Expiration: exp, storedAt: now.UnixNano()}
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.Expired(c.now().UnixNano()) {
		return nil, false
	}
	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		delete(c.items, key)
		c.evicted(key, item.Value)
	}
}

// Flush removes all items from the cache
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.items {
		c.evicted(k, v.Value)
	}
	c.items = make(map[string]Item)
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
			c.evicted(k, v.Value)
		}
	}
}

// evictOldest drops the entry stored first. Caller holds the lock.
func (c *Cache) evictOldest() {
	var (
		oldestKey string
		oldestAt  int64
		found     bool
	)
	for k, v := range c.items {
		if !found || v.storedAt < oldestAt {
			oldestKey, oldestAt, found = k, v.storedAt, true
		}
	}
	if !found {
		return
	}

	value := c.items[oldestKey].Value
	delete(c.items, oldestKey)
	c.evicted(oldestKey, value)
}

func (c *Cache) evicted(key string, value any) {
	if c.opts.OnEvicted != nil {
		c.opts.OnEvicted(key, value)
	}
}
