package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wzvang/wanews/internal/logger"
	"github.com/wzvang/wanews/internal/news"
)

// RetentionDays is how long delivered links are remembered before the
// periodic purge drops them.
const RetentionDays = 20

// Entry records one delivered link.
type Entry struct {
	SentAt      time.Time `json:"sentAt"`
	PublishedAt time.Time `json:"publishedAt"`
}

// History is the delivery record of a single subscriber: a reverse
// index from topic to delivered links, plus the flat link map that is
// the authoritative dedup source.
type History struct {
	ByTopic map[string][]string `json:"byTopic"`
	AllNews map[string]Entry    `json:"allNews"`
}

// Ledger is the durable per-subscriber record of which links were
// delivered. It survives restarts so repeated deliveries stay
// idempotent across sessions.
type Ledger struct {
	path string

	mu        sync.Mutex
	byAddress map[string]*History

	now func() time.Time
}

func New(path string) *Ledger {
	return &Ledger{
		path:      path,
		byAddress: make(map[string]*History),
		now:       time.Now,
	}
}

// Load reads the ledger file. A missing or unreadable file starts the
// ledger empty; it is created on the first write.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored map[string]*History
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Warn("ledger file unreadable, starting empty", "path", l.path, "error", err)
		return nil
	}

	for _, h := range stored {
		if h.ByTopic == nil {
			h.ByTopic = make(map[string][]string)
		}
		if h.AllNews == nil {
			h.AllNews = make(map[string]Entry)
		}
	}
	l.byAddress = stored
	return nil
}

// Has reports whether a link was ever delivered to the address. This
// is the authoritative dedup check.
func (l *Ledger) Has(address, link string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.byAddress[address]
	if !ok {
		return false
	}
	_, sent := h.AllNews[link]
	return sent
}

// Record stores a delivered item for the address under the topic and
// persists. Items without a link cannot be tracked and are skipped
// with a log line instead of an error.
func (l *Ledger) Record(address, topic string, item news.Item) error {
	if item.Link == "" {
		logger.Warn("cannot record news item without link", "address", address, "topic", topic, "title", item.Title)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.byAddress[address]
	if !ok {
		h = &History{
			ByTopic: make(map[string][]string),
			AllNews: make(map[string]Entry),
		}
		l.byAddress[address] = h
	}

	if !containsLink(h.ByTopic[topic], item.Link) {
		h.ByTopic[topic] = append(h.ByTopic[topic], item.Link)
	}

	publishedAt := item.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = l.now()
	}
	h.AllNews[item.Link] = Entry{
		SentAt:      l.now(),
		PublishedAt: publishedAt,
	}

	return l.persistLocked()
}

// Purge drops every entry delivered longer than retention ago, both
// from the flat link map and from every topic list, then persists
// once. It returns the number of links removed.
func (l *Ledger) Purge(retention time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-retention)
	removed := 0

	for address, h := range l.byAddress {
		var stale []string
		for link, entry := range h.AllNews {
			if entry.SentAt.Before(cutoff) {
				stale = append(stale, link)
			}
		}

		for _, link := range stale {
			delete(h.AllNews, link)
			for topic, links := range h.ByTopic {
				h.ByTopic[topic] = removeLink(links, link)
			}
		}
		removed += len(stale)

		if len(h.AllNews) == 0 && len(stale) > 0 {
			delete(l.byAddress, address)
		}
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, l.persistLocked()
}

func (l *Ledger) persistLocked() error {
	data, err := json.MarshalIndent(l.byAddress, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	return nil
}

func containsLink(links []string, link string) bool {
	for _, l := range links {
		if l == link {
			return true
		}
	}
	return false
}

func removeLink(links []string, link string) []string {
	out := links[:0]
	for _, l := range links {
		if l != link {
			out = append(out, l)
		}
	}
	return out
}
