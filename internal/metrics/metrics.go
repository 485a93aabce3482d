package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ItemsFetched        int64
	ItemsEnqueued       int64
	DuplicatesFiltered  int64
	ExpiredFiltered     int64
	MessagesSent        int64
	SendFailures        int64
	LedgerEntriesPurged int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) AddItemsFetched(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsFetched += n
}

func (m *Metrics) AddItemsEnqueued(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsEnqueued += n
}

func (m *Metrics) AddDuplicatesFiltered(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesFiltered += n
}

func (m *Metrics) AddExpiredFiltered(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExpiredFiltered += n
}

func (m *Metrics) IncrementMessagesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSent++
}

func (m *Metrics) IncrementSendFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendFailures++
}

func (m *Metrics) AddLedgerEntriesPurged(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LedgerEntriesPurged += n
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"items_fetched":         m.ItemsFetched,
		"items_enqueued":        m.ItemsEnqueued,
		"duplicates_filtered":   m.DuplicatesFiltered,
		"expired_filtered":      m.ExpiredFiltered,
		"messages_sent":         m.MessagesSent,
		"send_failures":         m.SendFailures,
		"ledger_entries_purged": m.LedgerEntriesPurged,
		"last_run_time":         m.LastRunTime.Format(time.RFC3339),
		"last_error_time":       m.LastErrorTime.Format(time.RFC3339),
		"last_error":            m.LastError,
		"is_healthy":            m.IsHealthy,
	}
}
