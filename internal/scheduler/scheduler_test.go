package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wzvang/wanews/internal/ledger"
	"github.com/wzvang/wanews/internal/news"
	"github.com/wzvang/wanews/internal/shortener"
	"github.com/wzvang/wanews/internal/subscriber"
)

const testAddr = "51969508442@c.us"

type fakeFetcher struct {
	mu    sync.Mutex
	items []news.Item
	err   error
	calls int
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, topic string) ([]news.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]news.Item(nil), f.items...), nil
}

type sentMessage struct {
	address string
	text    string
	image   string
}

type fakeSink struct {
	mu        sync.Mutex
	ready     bool
	failText  bool
	failImage bool
	texts     []sentMessage
	images    []sentMessage
}

func (s *fakeSink) IsReady() bool { return s.ready }

func (s *fakeSink) SendText(ctx context.Context, address, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failText {
		return errors.New("transport rejected message")
	}
	s.texts = append(s.texts, sentMessage{address: address, text: text})
	return nil
}

func (s *fakeSink) SendImage(ctx context.Context, address, imageURL, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failImage {
		return errors.New("image fetch failed")
	}
	s.images = append(s.images, sentMessage{address: address, text: caption, image: imageURL})
	return nil
}

func (s *fakeSink) sentTexts() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.texts...)
}

func (s *fakeSink) sentImages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.images...)
}

func newTestScheduler(t *testing.T, topics []string, fetcher *fakeFetcher, sink *fakeSink) (*Scheduler, *subscriber.Registry, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()

	defaults := []subscriber.Default{{
		Address:         testAddr,
		Topics:          topics,
		IntervalMinutes: 10,
		MaxNewsAgeDays:  30,
	}}

	reg := subscriber.NewRegistry(filepath.Join(dir, "subscribers.json"), defaults)
	if err := reg.Load(); err != nil {
		t.Fatalf("registry load: %v", err)
	}

	led := ledger.New(filepath.Join(dir, "sent_news.json"))
	if err := led.Load(); err != nil {
		t.Fatalf("ledger load: %v", err)
	}

	s := New(reg, led, fetcher, shortener.New("", ""), sink, Options{})
	return s, reg, led
}

func pair(topic string) subscriber.Pair {
	return subscriber.Pair{Address: testAddr, Topic: topic}
}

func TestRefillQueueFiltersAgeAndPreservesOrder(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", Title: "A", PublishedAt: now},
		{Link: "https://example.com/b", Title: "B", PublishedAt: now.AddDate(0, 0, -40)},
	}}
	sink := &fakeSink{ready: true}
	s, reg, _ := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.RefillQueue(pair("x"))

	if got := reg.QueueLen(testAddr, "x"); got != 1 {
		t.Fatalf("queue length = %d, want 1 (40 day old item filtered)", got)
	}
	item, _ := reg.PopNext(testAddr, "x")
	if item.Link != "https://example.com/a" {
		t.Fatalf("queued item = %q, want the fresh one", item.Link)
	}
}

func TestRefillQueueIsIdempotent(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: now},
	}}
	s, reg, _ := newTestScheduler(t, []string{"x"}, fetcher, &fakeSink{ready: true})

	s.RefillQueue(pair("x"))
	s.RefillQueue(pair("x"))

	if got := reg.QueueLen(testAddr, "x"); got != 1 {
		t.Fatalf("queue length after double refill = %d, want 1", got)
	}
}

func TestRefillQueueSkipsLedgeredLinks(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: now},
	}}
	s, reg, led := newTestScheduler(t, []string{"x"}, fetcher, &fakeSink{ready: true})

	if err := led.Record(testAddr, "x", news.Item{Link: "https://example.com/a", PublishedAt: now}); err != nil {
		t.Fatalf("ledger record: %v", err)
	}

	s.RefillQueue(pair("x"))

	if got := reg.QueueLen(testAddr, "x"); got != 0 {
		t.Fatalf("ledgered link was enqueued again, queue length = %d", got)
	}
}

func TestRefillQueueCrossTopicDedup(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/shared", PublishedAt: now},
	}}
	s, reg, _ := newTestScheduler(t, []string{"x", "y"}, fetcher, &fakeSink{ready: true})

	s.RefillQueue(pair("x"))
	s.RefillQueue(pair("y"))

	total := reg.QueueLen(testAddr, "x") + reg.QueueLen(testAddr, "y")
	if total != 1 {
		t.Fatalf("shared link queued %d times across topics, want 1", total)
	}
}

func TestRefillQueueFetchErrorIsIsolated(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("scrape timeout")}
	s, reg, _ := newTestScheduler(t, []string{"x"}, fetcher, &fakeSink{ready: true})

	s.RefillQueue(pair("x")) // must not panic or enqueue anything

	if got := reg.QueueLen(testAddr, "x"); got != 0 {
		t.Fatalf("queue length = %d after failed fetch, want 0", got)
	}
}

func TestSendNextDeliversRecordsAndAdvancesTimer(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", Title: "A", Source: "Example", PublishedAt: now},
	}}
	sink := &fakeSink{ready: true}
	s, reg, led := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.SendNext(pair("x"))

	if got := len(sink.sentTexts()); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}
	if !led.Has(testAddr, "https://example.com/a") {
		t.Errorf("delivered link not recorded in ledger")
	}
	if got := reg.QueueLen(testAddr, "x"); got != 0 {
		t.Errorf("queue not drained, length = %d", got)
	}

	sub, _ := reg.Get(testAddr)
	if time.Since(sub.LastSent["x"]) > time.Minute {
		t.Errorf("lastSent not advanced: %v", sub.LastSent["x"])
	}
}

func TestSendNextFailureRequeuesAtFrontAndKeepsTimer(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: now},
		{Link: "https://example.com/b", PublishedAt: now},
	}}
	sink := &fakeSink{ready: true, failText: true}
	s, reg, led := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.SendNext(pair("x"))

	if led.Has(testAddr, "https://example.com/a") {
		t.Errorf("failed delivery must not be recorded in ledger")
	}

	sub, _ := reg.Get(testAddr)
	if !sub.LastSent["x"].IsZero() {
		t.Errorf("lastSent advanced despite send failure")
	}

	head, ok := reg.PopNext(testAddr, "x")
	if !ok || head.Link != "https://example.com/a" {
		t.Fatalf("failed item not back at queue front: got %q", head.Link)
	}
}

func TestSendNextImageFailureFallsBackToText(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: now, ImageURL: "https://example.com/a.jpg"},
	}}
	sink := &fakeSink{ready: true, failImage: true}
	s, _, led := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.SendNext(pair("x"))

	if got := len(sink.sentTexts()); got != 1 {
		t.Fatalf("text fallback not sent: %d text messages", got)
	}
	if !led.Has(testAddr, "https://example.com/a") {
		t.Errorf("fallback delivery should still be recorded")
	}
}

func TestSendNextPrefersImageWhenAvailable(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: now, ImageURL: "https://example.com/a.jpg"},
	}}
	sink := &fakeSink{ready: true}
	s, _, _ := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.SendNext(pair("x"))

	if got := len(sink.sentImages()); got != 1 {
		t.Fatalf("image send not attempted: %d image messages", got)
	}
	if got := len(sink.sentTexts()); got != 0 {
		t.Fatalf("text message sent despite successful image send")
	}
}

func TestSendNextNoopWhenSinkNotReady(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: now},
	}}
	sink := &fakeSink{ready: false}
	s, reg, _ := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.SendNext(pair("x"))

	if got := len(sink.sentTexts()); got != 0 {
		t.Fatalf("sent %d messages before sink was ready", got)
	}
	if got := reg.QueueLen(testAddr, "x"); got != 0 {
		t.Fatalf("queue mutated before sink was ready")
	}
}

func TestDeliveryTickHonorsIntervalGate(t *testing.T) {
	base := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", PublishedAt: base},
		{Link: "https://example.com/b", PublishedAt: base},
	}}
	sink := &fakeSink{ready: true}
	s, reg, _ := newTestScheduler(t, []string{"x"}, fetcher, sink)

	// Interval is 10 minutes. Nine minutes after a delivery nothing
	// is due; eleven minutes after, exactly one delivery fires.
	reg.MarkSent(testAddr, "x", base.Add(-9*time.Minute))
	s.now = func() time.Time { return base }
	s.DeliveryTick()
	if got := len(sink.sentTexts()); got != 0 {
		t.Fatalf("delivery fired %d times before interval elapsed", got)
	}

	reg.MarkSent(testAddr, "x", base.Add(-11*time.Minute))
	s.DeliveryTick()
	if got := len(sink.sentTexts()); got != 1 {
		t.Fatalf("delivery fired %d times, want exactly 1 per tick", got)
	}
}

func TestDeliveryTickScenario(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: []news.Item{
		{Link: "https://example.com/a", Title: "fresh", PublishedAt: now},
		{Link: "https://example.com/b", Title: "stale", PublishedAt: now.AddDate(0, 0, -40)},
	}}
	sink := &fakeSink{ready: true}
	s, reg, led := newTestScheduler(t, []string{"x"}, fetcher, sink)

	s.DeliveryTick() // lastSent starts at epoch, so the pair is due

	msgs := sink.sentTexts()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if !led.Has(testAddr, "https://example.com/a") {
		t.Errorf("ledger missing delivered link")
	}
	if led.Has(testAddr, "https://example.com/b") {
		t.Errorf("stale item must never reach the ledger")
	}
	if got := reg.QueueLen(testAddr, "x"); got != 0 {
		t.Errorf("queue should be empty after the only fresh item was sent")
	}

	sub, _ := reg.Get(testAddr)
	if time.Since(sub.LastSent["x"]) > time.Minute {
		t.Errorf("lastSent not close to now: %v", sub.LastSent["x"])
	}
}

func TestPurgeTickDelegatesToLedger(t *testing.T) {
	fetcher := &fakeFetcher{}
	s, _, led := newTestScheduler(t, []string{"x"}, fetcher, &fakeSink{ready: true})

	if err := led.Record(testAddr, "x", news.Item{Link: "https://example.com/a", PublishedAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}

	s.PurgeTick() // nothing is old enough yet

	if !led.Has(testAddr, "https://example.com/a") {
		t.Fatalf("fresh ledger entry purged")
	}
}

func TestFormatMessageFallsBackToOriginalLink(t *testing.T) {
	fetcher := &fakeFetcher{}
	s, _, _ := newTestScheduler(t, []string{"x"}, fetcher, &fakeSink{ready: true})

	item := news.Item{
		Title:       "Titular",
		Link:        "https://example.com/a",
		Source:      "Example",
		PublishedAt: time.Now(),
	}
	msg := s.formatMessage(context.Background(), "x", item)

	for _, want := range []string{"*X*", "Titular", "Example", "https://example.com/a"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
