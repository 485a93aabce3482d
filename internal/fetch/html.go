package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wzvang/wanews/internal/news"
)

// GoogleNewsHTML scrapes topic results from the Google News search page.
type GoogleNewsHTML struct {
	baseURL     string
	client      *http.Client
	maxArticles int
	lang        string
	country     string
}

func NewGoogleNewsHTML(maxArticles int, lang, country string, timeout time.Duration) *GoogleNewsHTML {
	return &GoogleNewsHTML{
		baseURL:     "https://news.google.com",
		client:      &http.Client{Timeout: timeout},
		maxArticles: maxArticles,
		lang:        lang,
		country:     country,
	}
}

func (g *GoogleNewsHTML) Name() string { return "google-news-html" }

func (g *GoogleNewsHTML) Fetch(ctx context.Context, topic string) ([]news.Item, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s&hl=%s&gl=%s&ceid=%s",
		g.baseURL,
		url.QueryEscape(topic),
		url.QueryEscape(g.lang),
		url.QueryEscape(g.country),
		url.QueryEscape(g.country+":"+g.lang),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load search page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search page HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var items []news.Item
	doc.Find("article").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(items) >= g.maxArticles {
			return false
		}

		item := g.parseArticle(s)
		if item.Title == "" && item.Link == "" {
			return true
		}

		items = append(items, item)
		return true
	})

	return items, nil
}

var srcset2x = regexp.MustCompile(`([^,\s]+)\s2x`)

func (g *GoogleNewsHTML) parseArticle(s *goquery.Selection) news.Item {
	item := news.Item{Source: unknownSource}

	titleSel := s.Find(`[data-n-tid="29"]`).First()
	item.Title = strings.TrimSpace(titleSel.Text())

	if href, ok := titleSel.Attr("href"); ok {
		item.Link = g.absoluteURL(href)
	}

	if src := strings.TrimSpace(s.Find(`[data-n-tid="9"]`).First().Text()); src != "" {
		item.Source = src
	}

	if dt, ok := s.Find("[datetime]").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			item.PublishedAt = t
		}
	}

	item.ImageURL = g.extractImageURL(s.Find("figure img").First())

	return item
}

// extractImageURL prefers the 2x candidate from srcset over plain src.
func (g *GoogleNewsHTML) extractImageURL(img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}

	if srcSet, ok := img.Attr("srcset"); ok {
		if m := srcset2x.FindStringSubmatch(srcSet); m != nil {
			return g.absoluteURL(m[1])
		}
	}

	if src, ok := img.Attr("src"); ok {
		return g.absoluteURL(src)
	}
	return ""
}

func (g *GoogleNewsHTML) absoluteURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	path = strings.TrimPrefix(path, ".")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return g.baseURL + path
}
