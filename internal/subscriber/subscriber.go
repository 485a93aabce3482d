package subscriber

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wzvang/wanews/internal/news"
)

const (
	MinInterval = 1  // minutes
	MaxInterval = 60 // minutes
	MinNewsAge  = 1  // days
	MaxNewsAge  = 30 // days

	// Recipient address suffixes: individual chats vs group chats.
	SuffixUser  = "@c.us"
	SuffixGroup = "@g.us"
)

var (
	ErrInvalidAddress = errors.New("invalid subscriber address")
	ErrNoTopics       = errors.New("at least one topic is required")
	ErrNotFound       = errors.New("subscriber not found")
)

// Subscriber is a durable registration of a delivery address, its
// topics, delivery cadence and freshness window, together with the
// per-topic pending queue and last delivery timestamps.
type Subscriber struct {
	Address         string                 `json:"address"`
	Topics          []string               `json:"topics"`
	IntervalMinutes int                    `json:"interval"`
	MaxNewsAgeDays  int                    `json:"maxNewsAge"`
	LastSent        map[string]time.Time   `json:"lastSent"`
	Queue           map[string][]news.Item `json:"newsQueue,omitempty"`
}

// New validates the address and topics, clamps interval and freshness
// into bounds and initializes per-topic state.
func New(address string, topics []string, intervalMinutes, maxNewsAgeDays int) (*Subscriber, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	topics = cleanTopics(topics)
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}

	s := &Subscriber{
		Address:         addr,
		Topics:          topics,
		IntervalMinutes: clamp(intervalMinutes, MinInterval, MaxInterval),
		MaxNewsAgeDays:  clamp(maxNewsAgeDays, MinNewsAge, MaxNewsAge),
		LastSent:        make(map[string]time.Time),
		Queue:           make(map[string][]news.Item),
	}
	s.EnsureTopicState()

	return s, nil
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeAddress returns the canonical form of a recipient address.
// Group ids must already carry the group suffix; everything else is
// reduced to digits, checked for a minimum length and completed with
// the individual suffix.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	if strings.HasSuffix(raw, SuffixGroup) {
		if strings.TrimSuffix(raw, SuffixGroup) == "" {
			return "", fmt.Errorf("%w: empty group id", ErrInvalidAddress)
		}
		return raw, nil
	}

	digits := nonDigits.ReplaceAllString(strings.TrimSuffix(raw, SuffixUser), "")
	if len(digits) < 10 {
		return "", fmt.Errorf("%w: phone number needs at least 10 digits: %q", ErrInvalidAddress, raw)
	}
	return digits + SuffixUser, nil
}

// IsGroup reports whether the address targets a group chat.
func (s *Subscriber) IsGroup() bool {
	return strings.HasSuffix(s.Address, SuffixGroup)
}

// HasTopic reports topic membership.
func (s *Subscriber) HasTopic(topic string) bool {
	for _, t := range s.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// EnsureTopicState makes queue and last-sent entries exist for exactly
// the current topic set. Needed after JSON decoding, which leaves maps
// nil or carrying stale keys.
func (s *Subscriber) EnsureTopicState() {
	if s.LastSent == nil {
		s.LastSent = make(map[string]time.Time)
	}
	if s.Queue == nil {
		s.Queue = make(map[string][]news.Item)
	}

	for _, t := range s.Topics {
		if _, ok := s.Queue[t]; !ok {
			s.Queue[t] = []news.Item{}
		}
		if _, ok := s.LastSent[t]; !ok {
			s.LastSent[t] = time.Time{}
		}
	}

	for t := range s.Queue {
		if !s.HasTopic(t) {
			delete(s.Queue, t)
		}
	}
	for t := range s.LastSent {
		if !s.HasTopic(t) {
			delete(s.LastSent, t)
		}
	}
}

// ReplaceTopics swaps the topic set, keeping queue contents and
// last-sent timestamps for topics that survive and starting newly
// added topics fresh.
func (s *Subscriber) ReplaceTopics(topics []string) error {
	topics = cleanTopics(topics)
	if len(topics) == 0 {
		return ErrNoTopics
	}
	s.Topics = topics
	s.EnsureTopicState()
	return nil
}

// DueFor reports whether the configured interval has elapsed for the
// topic since the last delivery.
func (s *Subscriber) DueFor(topic string, now time.Time) bool {
	if !s.HasTopic(topic) {
		return false
	}
	interval := time.Duration(s.IntervalMinutes) * time.Minute
	return now.Sub(s.LastSent[topic]) >= interval
}

// InAnyQueue reports whether a link is already queued under any of the
// subscriber's topics. An item matching several subscribed topics must
// still be delivered at most once.
func (s *Subscriber) InAnyQueue(link string) bool {
	for _, queue := range s.Queue {
		for _, it := range queue {
			if it.Link == link {
				return true
			}
		}
	}
	return false
}

func cleanTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]bool)
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
