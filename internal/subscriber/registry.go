package subscriber

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

// Registry keeps every subscriber and persists the whole set to a JSON
// file after each mutation. A single mutex serializes both in-memory
// changes and file writes, so there is never more than one writer.
type Registry struct {
	path     string
	defaults []Default

	mu   sync.Mutex
	subs map[string]*Subscriber
}

func NewRegistry(path string, defaults []Default) *Registry {
	return &Registry{
		path: path,
		subs: make(map[string]*Subscriber),

		defaults: defaults,
	}
}

// Load reads the persisted subscriber set. A missing or unreadable
// file falls back to the validated defaults, which are persisted
// immediately. Invalid defaults abort startup.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := os.ReadFile(r.path)
	if err == nil && len(data) > 0 {
		var stored []*Subscriber
		if jsonErr := json.Unmarshal(data, &stored); jsonErr == nil {
			r.subs = make(map[string]*Subscriber, len(stored))
			for _, s := range stored {
				s.EnsureTopicState()
				s.IntervalMinutes = clamp(s.IntervalMinutes, MinInterval, MaxInterval)
				s.MaxNewsAgeDays = clamp(s.MaxNewsAgeDays, MinNewsAge, MaxNewsAge)
				r.subs[s.Address] = s
			}
			return nil
		} else {
			logger.Warn("subscribers file unreadable, seeding defaults", "path", r.path, "error", jsonErr)
		}
	} else if err != nil && !os.IsNotExist(err) {
		logger.Warn("cannot read subscribers file, seeding defaults", "path", r.path, "error", err)
	}

	r.subs = make(map[string]*Subscriber, len(r.defaults))
	for _, d := range r.defaults {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("default subscribers: %w", err)
		}
		s, err := New(d.Address, d.Topics, d.IntervalMinutes, d.MaxNewsAgeDays)
		if err != nil {
			return fmt.Errorf("default subscribers: %w", err)
		}
		r.subs[s.Address] = s
	}
	logger.Info("seeded default subscribers", "count", len(r.subs), "path", r.path)

	return r.persistLocked()
}

// Add registers a new subscriber (or replaces an existing one under
// the same canonical address) and persists.
func (r *Registry) Add(address string, topics []string, intervalMinutes, maxNewsAgeDays int) (*Subscriber, error) {
	s, err := New(address, topics, intervalMinutes, maxNewsAgeDays)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[s.Address] = s
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return s.copy(), nil
}

// Update carries partial changes for an existing subscriber. Nil
// fields are left untouched.
type Update struct {
	Topics          []string
	IntervalMinutes *int
	MaxNewsAgeDays  *int
}

// ApplyUpdate mutates an existing subscriber. A new topic list fully
// replaces membership while keeping queue contents and last-sent
// timestamps for topics that remain. Interval and freshness updates
// are clamped, never rejected.
func (r *Registry) ApplyUpdate(address string, u Update) (*Subscriber, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	if u.Topics != nil {
		if err := s.ReplaceTopics(u.Topics); err != nil {
			return nil, err
		}
	}
	if u.IntervalMinutes != nil {
		s.IntervalMinutes = clamp(*u.IntervalMinutes, MinInterval, MaxInterval)
	}
	if u.MaxNewsAgeDays != nil {
		s.MaxNewsAgeDays = clamp(*u.MaxNewsAgeDays, MinNewsAge, MaxNewsAge)
	}

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return s.copy(), nil
}

// Remove drops a subscriber. It is idempotent and reports whether
// anything was removed; the file is rewritten only on actual change.
func (r *Registry) Remove(address string) (bool, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[addr]; !ok {
		return false, nil
	}
	delete(r.subs, addr)

	if err := r.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Get returns a snapshot copy of one subscriber.
func (r *Registry) Get(address string) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[address]
	if !ok {
		return nil, false
	}
	return s.copy(), true
}

// All returns snapshot copies of every subscriber.
func (r *Registry) All() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s.copy())
	}
	return out
}

// Pair identifies one subscriber/topic delivery stream.
type Pair struct {
	Address string
	Topic   string
}

// AllPairs lists every subscriber/topic pair.
func (r *Registry) AllPairs() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pairs []Pair
	for _, s := range r.subs {
		for _, t := range s.Topics {
			pairs = append(pairs, Pair{Address: s.Address, Topic: t})
		}
	}
	return pairs
}

// DuePairs lists the pairs whose delivery interval has elapsed.
func (r *Registry) DuePairs(now time.Time) []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pairs []Pair
	for _, s := range r.subs {
		for _, t := range s.Topics {
			if s.DueFor(t, now) {
				pairs = append(pairs, Pair{Address: s.Address, Topic: t})
			}
		}
	}
	return pairs
}

// QueueLen returns the pending queue length for a pair; zero when the
// subscriber or topic is unknown.
func (r *Registry) QueueLen(address, topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[address]
	if !ok {
		return 0
	}
	return len(s.Queue[topic])
}

// PopNext removes and returns the head of a pair's queue.
func (r *Registry) PopNext(address, topic string) (news.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[address]
	if !ok || len(s.Queue[topic]) == 0 {
		return news.Item{}, false
	}

	item := s.Queue[topic][0]
	s.Queue[topic] = s.Queue[topic][1:]

	if err := r.persistLocked(); err != nil {
		logger.Error("persist after queue pop failed", "address", address, "error", err)
	}
	return item, true
}

// RequeueFront puts a failed item back at the head of the queue so it
// is retried before anything else.
func (r *Registry) RequeueFront(address, topic string, item news.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[address]
	if !ok || !s.HasTopic(topic) {
		return
	}

	s.Queue[topic] = append([]news.Item{item}, s.Queue[topic]...)

	if err := r.persistLocked(); err != nil {
		logger.Error("persist after requeue failed", "address", address, "error", err)
	}
}

// MarkSent advances the last delivery timestamp for a pair.
func (r *Registry) MarkSent(address, topic string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[address]
	if !ok || !s.HasTopic(topic) {
		return
	}

	s.LastSent[topic] = now

	if err := r.persistLocked(); err != nil {
		logger.Error("persist after delivery failed", "address", address, "error", err)
	}
}

// MergeStats summarizes one queue merge.
type MergeStats struct {
	Added      int
	Duplicates int
	Expired    int
}

// MergeQueue appends candidate items to a pair's queue in the given
// order, skipping items outside the subscriber's freshness window,
// items the ledger already saw (alreadySent) and items queued under
// any of the subscriber's topics. Items without a link are dropped:
// they have no identity to dedup on.
func (r *Registry) MergeQueue(address, topic string, candidates []news.Item, now time.Time, alreadySent func(link string) bool) MergeStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats MergeStats

	s, ok := r.subs[address]
	if !ok || !s.HasTopic(topic) {
		return stats
	}

	for _, it := range candidates {
		if it.Link == "" {
			continue
		}
		if !it.WithinAge(now, s.MaxNewsAgeDays) {
			stats.Expired++
			continue
		}
		if alreadySent(it.Link) || s.InAnyQueue(it.Link) {
			stats.Duplicates++
			continue
		}
		s.Queue[topic] = append(s.Queue[topic], it)
		stats.Added++
	}

	if stats.Added > 0 {
		if err := r.persistLocked(); err != nil {
			logger.Error("persist after refill failed", "address", address, "error", err)
		}
	}
	return stats
}

func (r *Registry) persistLocked() error {
	list := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		list = append(list, s)
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscribers: %w", err)
	}

	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write subscribers file: %w", err)
	}
	return nil
}

func (s *Subscriber) copy() *Subscriber {
	out := &Subscriber{
		Address:         s.Address,
		Topics:          append([]string(nil), s.Topics...),
		IntervalMinutes: s.IntervalMinutes,
		MaxNewsAgeDays:  s.MaxNewsAgeDays,
		LastSent:        make(map[string]time.Time, len(s.LastSent)),
		Queue:           make(map[string][]news.Item, len(s.Queue)),
	}
	for t, ts := range s.LastSent {
		out.LastSent[t] = ts
	}
	for t, q := range s.Queue {
		out.Queue[t] = append([]news.Item(nil), q...)
	}
	return out
}
