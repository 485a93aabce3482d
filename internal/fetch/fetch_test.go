package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wzvang/wanews/internal/cache"
	"github.com/wzvang/wanews/internal/news"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>"ia" - Google Noticias</title>
  <item>
    <title>Nueva ley de IA aprobada - El Comercio</title>
    <link>https://news.example.com/articles/1</link>
    <pubDate>Mon, 31 Aug 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Titular sin fuente</title>
    <link>https://news.example.com/articles/2</link>
    <pubDate>Mon, 31 Aug 2026 09:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Tercera noticia - RPP</title>
    <link>https://news.example.com/articles/3</link>
    <pubDate>Mon, 31 Aug 2026 08:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const samplePage = `<html><body>
<article>
  <figure><img srcset="/img/small.jpg 1x, /img/big.jpg 2x" src="/img/small.jpg"></figure>
  <a data-n-tid="29" href="./articles/abc">Titular principal</a>
  <div data-n-tid="9">La República</div>
  <time datetime="2026-08-31T10:00:00Z">hace 3 horas</time>
</article>
<article>
  <a data-n-tid="29" href="https://other.example.com/x">Titular externo</a>
</article>
<article>
  <div>sin titular ni enlace</div>
</article>
</body></html>`

func TestRSSFetchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "ia peru" {
			t.Errorf("query q = %q, want %q", q, "ia peru")
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewGoogleNewsRSS(20, "es-419", "PE", 5*time.Second)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background(), "ia peru")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	if items[0].Title != "Nueva ley de IA aprobada" {
		t.Errorf("title = %q", items[0].Title)
	}
	if items[0].Source != "El Comercio" {
		t.Errorf("source = %q", items[0].Source)
	}
	if items[0].PublishedAt.IsZero() {
		t.Errorf("pubDate not parsed")
	}
	if items[1].Source != unknownSource {
		t.Errorf("item without publisher got source %q", items[1].Source)
	}
}

func TestRSSFetchCapsArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewGoogleNewsRSS(2, "es-419", "PE", 5*time.Second)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background(), "ia")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want cap of 2", len(items))
	}
}

func TestRSSFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewGoogleNewsRSS(20, "es-419", "PE", 5*time.Second)
	f.baseURL = srv.URL

	if _, err := f.Fetch(context.Background(), "ia"); err == nil {
		t.Fatal("expected error on HTTP 503")
	}
}

func TestSplitSourceFromTitle(t *testing.T) {
	tests := []struct {
		in, title, source string
	}{
		{"Titular - Fuente", "Titular", "Fuente"},
		{"Titular con - guion - Fuente", "Titular con - guion", "Fuente"},
		{"Sin fuente", "Sin fuente", unknownSource},
		{"Titular - ", "Titular", unknownSource},
	}
	for _, tt := range tests {
		title, source := splitSourceFromTitle(tt.in)
		if title != tt.title || source != tt.source {
			t.Errorf("splitSourceFromTitle(%q) = %q, %q; want %q, %q",
				tt.in, title, source, tt.title, tt.source)
		}
	}
}

func TestHTMLFetchParsesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := NewGoogleNewsHTML(20, "es-419", "PE", 5*time.Second)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background(), "ia")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (empty article skipped)", len(items))
	}

	first := items[0]
	if first.Title != "Titular principal" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Link != srv.URL+"/articles/abc" {
		t.Errorf("relative link not resolved: %q", first.Link)
	}
	if first.Source != "La República" {
		t.Errorf("source = %q", first.Source)
	}
	if first.ImageURL != srv.URL+"/img/big.jpg" {
		t.Errorf("2x srcset candidate not picked: %q", first.ImageURL)
	}
	if first.PublishedAt.IsZero() {
		t.Errorf("datetime not parsed")
	}

	second := items[1]
	if second.Link != "https://other.example.com/x" {
		t.Errorf("absolute link rewritten: %q", second.Link)
	}
	if second.Source != unknownSource {
		t.Errorf("article without source got %q", second.Source)
	}
}

func TestCachedFetchesOncePerTTL(t *testing.T) {
	inner := &countingFetcher{items: []news.Item{{Link: "https://example.com/a"}}}
	c := cache.New()
	defer c.Stop()

	f := NewCached(inner, c, time.Minute)

	for i := 0; i < 3; i++ {
		items, err := f.Fetch(context.Background(), "ia")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if len(items) != 1 {
			t.Fatalf("fetch %d returned %d items", i, len(items))
		}
	}

	if inner.calls != 1 {
		t.Fatalf("inner fetcher called %d times, want 1", inner.calls)
	}
}

func TestCachedKeysByTopic(t *testing.T) {
	inner := &countingFetcher{items: []news.Item{{Link: "https://example.com/a"}}}
	c := cache.New()
	defer c.Stop()

	f := NewCached(inner, c, time.Minute)

	f.Fetch(context.Background(), "ia")
	f.Fetch(context.Background(), "economia")

	if inner.calls != 2 {
		t.Fatalf("inner fetcher called %d times for 2 topics, want 2", inner.calls)
	}
}

type countingFetcher struct {
	items []news.Item
	calls int
}

func (f *countingFetcher) Name() string { return "counting" }

func (f *countingFetcher) Fetch(ctx context.Context, topic string) ([]news.Item, error) {
	f.calls++
	return f.items, nil
}
