// Package ledger maintains the append-only log of billed operations and the
// rolling spend aggregates derived from it. The event log is authoritative:
// aggregates are kept incrementally for hot-path reads but can always be
// recomputed from the in-memory window, and durable JSONL journal files hold
// everything that has aged out of memory.
package ledger

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Limits carries the configured spend limits and thresholds the ledger
// stamps onto every BudgetState snapshot.
type Limits struct {
	DailyLimit         float64
	MonthlyLimit       float64
	PerUserDailyLimit  float64
	AlertThreshold     float64
	EmergencyThreshold float64
}

// Ledger is the in-memory usage ledger. All methods are safe for concurrent
// use; a single mutex guards the event window and the aggregate buckets.
type Ledger struct {
	mu        sync.Mutex
	events    []UsageEvent
	retention time.Duration
	limits    Limits
	journal   *Journal // may be nil (memory-only)

	// Incremental aggregates for the current day/month buckets.
	day          string // "2006-01-02"
	month        string // "2006-01"
	dailySpend   float64
	monthlySpend float64
	userDaily    map[string]float64

	now func() time.Time // test hook
}

// New creates a Ledger. journal may be nil to disable durable writes.
func New(limits Limits, retentionDays int, journal *Journal) *Ledger {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Ledger{
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		limits:    limits,
		journal:   journal,
		userDaily: make(map[string]float64),
		now:       time.Now,
	}
}

// SetLimits replaces the configured limits (config hot reload).
func (l *Ledger) SetLimits(limits Limits) {
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
}

// Record appends an immutable UsageEvent and updates the aggregates.
// The durable journal write is handed off asynchronously so recording never
// blocks on disk I/O.
func (l *Ledger) Record(ev UsageEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}

	l.mu.Lock()
	l.rollover(ev.Timestamp)
	l.events = append(l.events, ev)
	if sameDay(ev.Timestamp, l.day) {
		l.dailySpend += ev.CostUSD
		if ev.UserID != "" {
			l.userDaily[ev.UserID] += ev.CostUSD
		}
	}
	if sameMonth(ev.Timestamp, l.month) {
		l.monthlySpend += ev.CostUSD
	}
	l.mu.Unlock()

	if l.journal != nil {
		l.journal.Append(ev)
	}
}

// Aggregates returns the current BudgetState. userID may be empty, in which
// case UserDailySpend is zero. Events older than the retention horizon are
// dropped from memory on the way through (they remain in the journal files).
func (l *Ledger) Aggregates(userID string) BudgetState {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	l.dropAged(now)

	return BudgetState{
		DailySpend:         l.dailySpend,
		MonthlySpend:       l.monthlySpend,
		UserDailySpend:     l.userDaily[userID],
		DailyLimit:         l.limits.DailyLimit,
		MonthlyLimit:       l.limits.MonthlyLimit,
		PerUserDailyLimit:  l.limits.PerUserDailyLimit,
		AlertThreshold:     l.limits.AlertThreshold,
		EmergencyThreshold: l.limits.EmergencyThreshold,
	}
}

// EventCount returns the number of events in the in-memory window.
func (l *Ledger) EventCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Reconcile recomputes all aggregate buckets from the event window, guarding
// against any drift in the incremental counters. It returns true when the
// recomputation changed a bucket value.
func (l *Ledger) Reconcile() bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	l.dropAged(now)

	daily := 0.0
	monthly := 0.0
	userDaily := make(map[string]float64)
	for _, ev := range l.events {
		if sameMonth(ev.Timestamp, l.month) {
			monthly += ev.CostUSD
		}
		if sameDay(ev.Timestamp, l.day) {
			daily += ev.CostUSD
			if ev.UserID != "" {
				userDaily[ev.UserID] += ev.CostUSD
			}
		}
	}

	changed := !closeEnough(daily, l.dailySpend) || !closeEnough(monthly, l.monthlySpend)
	if changed {
		log.Warn().
			Float64("incremental_daily", l.dailySpend).
			Float64("recomputed_daily", daily).
			Float64("incremental_monthly", l.monthlySpend).
			Float64("recomputed_monthly", monthly).
			Msg("ledger: aggregate drift corrected")
	}

	l.dailySpend = daily
	l.monthlySpend = monthly
	l.userDaily = userDaily
	return changed
}

// rollover resets the daily/monthly buckets when t has crossed a period
// boundary since the buckets were last touched. Resets happen exactly at the
// boundary and nowhere else: the bucket identity is the calendar label.
func (l *Ledger) rollover(t time.Time) {
	day := t.Format("2006-01-02")
	month := t.Format("2006-01")

	if l.day != day {
		l.day = day
		l.dailySpend = 0
		l.userDaily = make(map[string]float64)
		// Recompute from any events already carrying today's date (journal
		// replay can insert events before the first Record of the day).
		for _, ev := range l.events {
			if sameDay(ev.Timestamp, day) {
				l.dailySpend += ev.CostUSD
				if ev.UserID != "" {
					l.userDaily[ev.UserID] += ev.CostUSD
				}
			}
		}
	}
	if l.month != month {
		l.month = month
		l.monthlySpend = 0
		for _, ev := range l.events {
			if sameMonth(ev.Timestamp, month) {
				l.monthlySpend += ev.CostUSD
			}
		}
	}
}

// dropAged removes events older than the retention horizon from the window.
func (l *Ledger) dropAged(now time.Time) {
	cutoff := now.Add(-l.retention)
	i := 0
	for i < len(l.events) && l.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0:0], l.events[i:]...)
	}
}

func sameDay(t time.Time, day string) bool {
	return t.Format("2006-01-02") == day
}

func sameMonth(t time.Time, month string) bool {
	return t.Format("2006-01") == month
}

func closeEnough(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
