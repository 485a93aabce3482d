package cache

import (
	"sync"
	"time"

	"github.com/wzvang/wanews/internal/news"
)

type entry struct {
	items     []news.Item
	expiresAt time.Time
}

// Cache memoizes topic fetch results for a short TTL so that many
// subscribers sharing a topic trigger one fetch per window.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stop    chan struct{}
}

func New() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}

	// Cleanup expired entries every hour
	go c.cleanupLoop()

	return c
}

func (c *Cache) Set(key string, items []news.Item, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		items:     items,
		expiresAt: time.Now().Add(ttl),
	}
}

func (c *Cache) Get(key string) ([]news.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	if !exists || time.Now().After(e.expiresAt) {
		return nil, false
	}

	return e.items, true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Stop ends the background cleanup goroutine.
func (c *Cache) Stop() {
	close(c.stop)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
