package fetch

import (
	"context"

	"github.com/wzvang/wanews/internal/news"
)

// Fetcher resolves a topic into an ordered list of news items. The
// returned order is preserved by callers, so implementations should
// emit items the way the source lists them.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, topic string) ([]news.Item, error)
}
