package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wzvang/wanews/internal/fetch"
	"github.com/wzvang/wanews/internal/gateway"
	"github.com/wzvang/wanews/internal/ledger"
	"github.com/wzvang/wanews/internal/logger"
	"github.com/wzvang/wanews/internal/metrics"
	"github.com/wzvang/wanews/internal/news"
	"github.com/wzvang/wanews/internal/shortener"
	"github.com/wzvang/wanews/internal/subscriber"
)

// Options configures the periodic jobs.
type Options struct {
	DeliverySpec  string // cron spec for the delivery tick
	RefillSpec    string // cron spec for the proactive queue refill
	PurgeSpec     string // cron spec for the ledger purge
	RetentionDays int    // ledger retention window
	FetchTimeout  time.Duration
	SendTimeout   time.Duration
}

func (o *Options) fillDefaults() {
	if o.DeliverySpec == "" {
		o.DeliverySpec = "@every 1m"
	}
	if o.RefillSpec == "" {
		o.RefillSpec = "@every 1h"
	}
	if o.PurgeSpec == "" {
		o.PurgeSpec = "@every 24h"
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = ledger.RetentionDays
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 60 * time.Second
	}
}

// Scheduler runs the distribution loop: it keeps per-subscriber topic
// queues filled with fresh, not-yet-delivered news and drains them at
// each subscriber's own cadence. It owns no durable state of its own;
// the registry and the ledger do.
type Scheduler struct {
	registry  *subscriber.Registry
	ledger    *ledger.Ledger
	fetcher   fetch.Fetcher
	shortener *shortener.Client
	sink      gateway.Sink
	opts      Options

	cron *cron.Cron

	mu    sync.Mutex
	locks map[subscriber.Pair]*sync.Mutex

	// injectable clock
	now func() time.Time
}

func New(reg *subscriber.Registry, led *ledger.Ledger, f fetch.Fetcher, sh *shortener.Client, sink gateway.Sink, opts Options) *Scheduler {
	opts.fillDefaults()
	return &Scheduler{
		registry:  reg,
		ledger:    led,
		fetcher:   f,
		shortener: sh,
		sink:      sink,
		opts:      opts,
		cron:      cron.New(),
		locks:     make(map[subscriber.Pair]*sync.Mutex),
		now:       time.Now,
	}
}

// Start registers the periodic jobs and starts the timer. An initial
// delivery sweep runs right away so a restart does not wait a full
// tick.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.DeliverySpec, s.DeliveryTick); err != nil {
		return fmt.Errorf("register delivery tick: %w", err)
	}
	if _, err := s.cron.AddFunc(s.opts.RefillSpec, s.RefillTick); err != nil {
		return fmt.Errorf("register refill tick: %w", err)
	}
	if _, err := s.cron.AddFunc(s.opts.PurgeSpec, s.PurgeTick); err != nil {
		return fmt.Errorf("register purge tick: %w", err)
	}

	s.cron.Start()
	go s.DeliveryTick()

	logger.Info("scheduler started",
		"delivery", s.opts.DeliverySpec,
		"refill", s.opts.RefillSpec,
		"purge", s.opts.PurgeSpec)
	return nil
}

// Stop halts the timers and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("scheduler stopped")
}

// DeliveryTick evaluates the interval gate for every subscriber/topic
// pair and attempts a delivery for each pair that is due. Pairs run in
// their own goroutines so one slow delivery never delays the rest.
func (s *Scheduler) DeliveryTick() {
	if !s.sink.IsReady() {
		logger.Debug("delivery sink not ready, skipping tick")
		return
	}

	due := s.registry.DuePairs(s.now())
	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, p := range due {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SendNext(p)
		}()
	}
	wg.Wait()

	metrics.Global.SetLastRun()
}

// RefillTick proactively refills every queue regardless of interval
// state, so queues are warm before their next due time.
func (s *Scheduler) RefillTick() {
	var wg sync.WaitGroup
	for _, p := range s.registry.AllPairs() {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RefillQueue(p)
		}()
	}
	wg.Wait()
}

// PurgeTick retires ledger entries older than the retention window.
func (s *Scheduler) PurgeTick() {
	retention := time.Duration(s.opts.RetentionDays) * 24 * time.Hour
	removed, err := s.ledger.Purge(retention)
	if err != nil {
		logger.Error("ledger purge failed", "error", err)
		return
	}
	metrics.Global.AddLedgerEntriesPurged(int64(removed))
	logger.Info("ledger purge completed", "removed", removed)
}

// SendNext delivers the next queued item for a pair, refilling first
// when the queue is empty. A pair still busy from a previous tick is
// skipped rather than piled up on.
func (s *Scheduler) SendNext(p subscriber.Pair) {
	lock := s.pairLock(p)
	if !lock.TryLock() {
		logger.Debug("pair still busy, skipping", "address", p.Address, "topic", p.Topic)
		return
	}
	defer lock.Unlock()

	if !s.sink.IsReady() {
		return
	}

	if s.registry.QueueLen(p.Address, p.Topic) == 0 {
		s.refill(p)
		if s.registry.QueueLen(p.Address, p.Topic) == 0 {
			logger.Debug("no fresh news for pair", "address", p.Address, "topic", p.Topic)
			return
		}
	}

	item, ok := s.registry.PopNext(p.Address, p.Topic)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()

	if err := s.deliver(ctx, p.Address, item, s.formatMessage(ctx, p.Topic, item)); err != nil {
		metrics.Global.IncrementSendFailures()
		logger.Error("send failed, requeueing item at front",
			"address", p.Address, "topic", p.Topic, "link", item.Link, "error", err)
		s.registry.RequeueFront(p.Address, p.Topic, item)
		return
	}

	if err := s.ledger.Record(p.Address, p.Topic, item); err != nil {
		logger.Error("ledger record failed", "address", p.Address, "link", item.Link, "error", err)
	}
	s.registry.MarkSent(p.Address, p.Topic, s.now())
	metrics.Global.IncrementMessagesSent()
	logger.Info("news delivered", "address", p.Address, "topic", p.Topic, "link", item.Link)
}

// RefillQueue refills one pair's queue, skipping pairs that are busy
// delivering.
func (s *Scheduler) RefillQueue(p subscriber.Pair) {
	lock := s.pairLock(p)
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	s.refill(p)
}

// refill pulls candidates for the topic and merges the fresh,
// not-yet-seen ones into the pair's queue. Callers hold the pair lock.
func (s *Scheduler) refill(p subscriber.Pair) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()

	items, err := s.fetcher.Fetch(ctx, p.Topic)
	if err != nil {
		metrics.Global.SetError(err.Error())
		logger.Error("topic fetch failed", "topic", p.Topic, "error", err)
		return
	}
	metrics.Global.AddItemsFetched(int64(len(items)))

	stats := s.registry.MergeQueue(p.Address, p.Topic, items, s.now(), func(link string) bool {
		return s.ledger.Has(p.Address, link)
	})
	metrics.Global.AddItemsEnqueued(int64(stats.Added))
	metrics.Global.AddDuplicatesFiltered(int64(stats.Duplicates))
	metrics.Global.AddExpiredFiltered(int64(stats.Expired))

	if stats.Added > 0 {
		logger.Info("queue refilled",
			"address", p.Address, "topic", p.Topic,
			"added", stats.Added, "duplicates", stats.Duplicates, "expired", stats.Expired)
	}
}

// deliver tries an image send first when the item carries one; any
// image failure falls back to a text-only send of the same message.
func (s *Scheduler) deliver(ctx context.Context, address string, item news.Item, text string) error {
	if item.ImageURL != "" {
		if err := s.sink.SendImage(ctx, address, item.ImageURL, text); err == nil {
			return nil
		} else {
			logger.Warn("image send failed, falling back to text",
				"address", address, "image", item.ImageURL, "error", err)
		}
	}
	return s.sink.SendText(ctx, address, text)
}

func (s *Scheduler) formatMessage(ctx context.Context, topic string, item news.Item) string {
	link := s.shortener.Shorten(ctx, item.Link)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📱 *%s*\n\n", strings.ToUpper(topic)))
	b.WriteString(fmt.Sprintf("🗞️ *%s*\n\n", item.Title))
	b.WriteString(fmt.Sprintf("📰 %s\n", item.Source))
	if !item.PublishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("⏰ %s\n", item.PublishedAt.Local().Format("02/01/2006 15:04")))
	}
	b.WriteString(fmt.Sprintf("\n🔗 %s", link))
	return b.String()
}

func (s *Scheduler) pairLock(p subscriber.Pair) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[p]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[p] = lock
	}
	return lock
}
