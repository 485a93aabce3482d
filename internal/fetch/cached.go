package fetch

import (
	"context"
	"time"

	"github.com/wzvang/wanews/internal/cache"
	"github.com/wzvang/wanews/internal/news"
)

// Cached memoizes another fetcher's results per topic for a short TTL.
// Many subscribers sharing a topic within the window then cost a single
// upstream fetch.
type Cached struct {
	inner Fetcher
	cache *cache.Cache
	ttl   time.Duration
}

func NewCached(inner Fetcher, c *cache.Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Fetch(ctx context.Context, topic string) ([]news.Item, error) {
	key := "news-" + topic

	if items, ok := c.cache.Get(key); ok {
		return items, nil
	}

	items, err := c.inner.Fetch(ctx, topic)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, items, c.ttl)
	return items, nil
}
