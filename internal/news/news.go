package news

import (
	"regexp"
	"strings"
	"time"
)

// Item is a single news article produced by a topic fetch.
// The link is the identity of an item; items without a link cannot be
// deduplicated and are never queued for delivery.
type Item struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	ImageURL    string    `json:"image,omitempty"`
}

// WithinAge reports whether the item is fresh enough for a subscriber
// with the given freshness window in days. Items with unknown publish
// time are treated as expired. The boundary is inclusive: an item
// published exactly maxAgeDays ago is still fresh.
func (it Item) WithinAge(now time.Time, maxAgeDays int) bool {
	if it.PublishedAt.IsZero() {
		return false
	}
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	return !it.PublishedAt.Before(cutoff)
}

// DefaultTopic is used when a search query is empty after sanitizing.
const DefaultTopic = "inteligencia artificial peru"

var topicJunk = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// SanitizeTopic normalizes a free-text search query: caps the length,
// strips punctuation and collapses whitespace. Empty input falls back
// to DefaultTopic.
func SanitizeTopic(q string) string {
	if runes := []rune(q); len(runes) > 100 {
		q = string(runes[:100])
	}
	q = topicJunk.ReplaceAllString(q, "")
	q = strings.Join(strings.Fields(q), " ")
	if q == "" {
		return DefaultTopic
	}
	return q
}
