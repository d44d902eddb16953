package syncer

import (
	"sync"
	"time"
)

// Stats are the process-lifetime counters exposed by /api/stats. The
// journal keeps the durable history; these cover the current process.
type Stats struct {
	mu               sync.Mutex
	started          time.Time
	webhooksReceived int64
	dealsProcessed   int64
	syncsCompleted   int64
	errors           int64
	lastWebhook      time.Time
	lastSync         time.Time
	lastFullSync     time.Time
}

// NewStats starts the uptime clock.
func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

func (s *Stats) WebhookReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooksReceived++
	s.lastWebhook = time.Now()
}

func (s *Stats) DealProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dealsProcessed++
}

func (s *Stats) SyncCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncsCompleted++
	s.lastSync = time.Now()
}

func (s *Stats) FullSyncCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFullSync = time.Now()
	s.lastSync = s.lastFullSync
}

func (s *Stats) ErrorOccurred() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UptimeSeconds    int64      `json:"uptime"`
	WebhooksReceived int64      `json:"webhooksReceived"`
	DealsProcessed   int64      `json:"dealsProcessed"`
	SyncsCompleted   int64      `json:"syncCompleted"`
	Errors           int64      `json:"errors"`
	LastWebhook      *time.Time `json:"lastWebhook"`
	LastSync         *time.Time `json:"lastSync"`
	LastFullSync     *time.Time `json:"lastFullSync"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		WebhooksReceived: s.webhooksReceived,
		DealsProcessed:   s.dealsProcessed,
		SyncsCompleted:   s.syncsCompleted,
		Errors:           s.errors,
		LastWebhook:      timePtr(s.lastWebhook),
		LastSync:         timePtr(s.lastSync),
		LastFullSync:     timePtr(s.lastFullSync),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
