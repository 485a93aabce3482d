package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/wzvang/wanews/internal/news"
)

const unknownSource = "Fuente desconocida"

// GoogleNewsRSS fetches topic results from the Google News search feed.
type GoogleNewsRSS struct {
	baseURL     string
	client      *http.Client
	maxArticles int
	lang        string
	country     string
}

func NewGoogleNewsRSS(maxArticles int, lang, country string, timeout time.Duration) *GoogleNewsRSS {
	return &GoogleNewsRSS{
		baseURL:     "https://news.google.com",
		client:      &http.Client{Timeout: timeout},
		maxArticles: maxArticles,
		lang:        lang,
		country:     country,
	}
}

func (g *GoogleNewsRSS) Name() string { return "google-news-rss" }

func (g *GoogleNewsRSS) Fetch(ctx context.Context, topic string) ([]news.Item, error) {
	feedURL := fmt.Sprintf("%s/rss/search?q=%s&hl=%s&gl=%s&ceid=%s",
		g.baseURL,
		url.QueryEscape(topic),
		url.QueryEscape(g.lang),
		url.QueryEscape(g.country),
		url.QueryEscape(g.country+":"+g.lang),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed HTTP error: %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]news.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		if len(items) >= g.maxArticles {
			break
		}

		title, source := splitSourceFromTitle(fi.Title)

		item := news.Item{
			Title:  title,
			Link:   fi.Link,
			Source: source,
		}
		if fi.PublishedParsed != nil {
			item.PublishedAt = *fi.PublishedParsed
		}
		if fi.Image != nil {
			item.ImageURL = fi.Image.URL
		}

		items = append(items, item)
	}

	return items, nil
}

// splitSourceFromTitle separates "Headline - Publisher" feed titles.
func splitSourceFromTitle(title string) (string, string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return strings.TrimSpace(title), unknownSource
	}
	source := strings.TrimSpace(title[idx+3:])
	if source == "" {
		source = unknownSource
	}
	return strings.TrimSpace(title[:idx]), source
}
