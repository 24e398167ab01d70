package scheduler

import (
	"sync"
	"time"
)

// Stats accumulates per-domain operational statistics. Daily counters roll
// over at local midnight. Safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	day         time.Time
	itemsToday  int
	tokensToday int

	lastRunAt   time.Time
	lastError   string
	lastErrorAt time.Time
	nextRunAt   time.Time
}

// Snapshot is a point-in-time copy of the statistics.
type Snapshot struct {
	ItemsToday  int       `json:"items_today"`
	TokensToday int       `json:"tokens_today"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
	NextRunAt   time.Time `json:"next_run_at,omitempty"`
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{}
}

// rollover resets the daily counters when now crossed local midnight.
// Caller holds the lock.
func (s *Stats) rollover(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !day.Equal(s.day) {
		s.day = day
		s.itemsToday = 0
		s.tokensToday = 0
	}
}

// RecordRun records a completed cycle's item and token counts.
func (s *Stats) RecordRun(now time.Time, items, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover(now)
	s.itemsToday += items
	s.tokensToday += tokens
	s.lastRunAt = now
}

// RecordError records a cycle failure.
func (s *Stats) RecordError(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover(now)
	s.lastError = err.Error()
	s.lastErrorAt = now
}

// SetNextRun records when the next timer fire is expected.
func (s *Stats) SetNextRun(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunAt = at
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover(now)
	return Snapshot{
		ItemsToday:  s.itemsToday,
		TokensToday: s.tokensToday,
		LastRunAt:   s.lastRunAt,
		LastError:   s.lastError,
		LastErrorAt: s.lastErrorAt,
		NextRunAt:   s.nextRunAt,
	}
}
