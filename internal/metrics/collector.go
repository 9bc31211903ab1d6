// Package metrics keeps a live, lock-free view of gateway activity:
// query throughput, where answers came from, token volume, spend, and
// savings. Counters are atomics so the hot path never takes a lock.
package metrics

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/allaspects/querygate/internal/pipeline"
)

// Collector accumulates counters for the lifetime of the process.
type Collector struct {
	totalQueries int64
	generated    int64
	cacheHits    int64
	cacheMisses  int64
	dedupHits    int64
	fallbacks    int64

	totalTokensIn  int64
	totalTokensOut int64

	// Float64 counters stored as uint64 via math.Float64bits.
	totalCostUSD  uint64
	totalSavedUSD uint64

	activeQueries int64

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector, shaped for JSON
// output on the status command.
type Stats struct {
	Uptime         string  `json:"uptime"`
	TotalQueries   int64   `json:"total_queries"`
	Generated      int64   `json:"generated"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	DedupHits      int64   `json:"dedup_hits"`
	Fallbacks      int64   `json:"fallbacks"`
	TokensIn       int64   `json:"tokens_in"`
	TokensOut      int64   `json:"tokens_out"`
	CostUSD        float64 `json:"cost_usd"`
	SavedUSD       float64 `json:"saved_usd"`
	SavingsPercent float64 `json:"savings_percent"`
	ActiveQueries  int64   `json:"active_queries"`
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Record updates the counters from a completed answer.
func (c *Collector) Record(ans *pipeline.Answer) {
	atomic.AddInt64(&c.totalQueries, 1)
	atomic.AddInt64(&c.totalTokensIn, int64(ans.TokensIn))
	atomic.AddInt64(&c.totalTokensOut, int64(ans.TokensOut))
	addFloat64(&c.totalCostUSD, ans.CostUSD)
	addFloat64(&c.totalSavedUSD, ans.SavedUSD)

	switch ans.Source {
	case pipeline.SourceCacheExact, pipeline.SourceCacheSimilar:
		atomic.AddInt64(&c.cacheHits, 1)
	case pipeline.SourceDedup:
		atomic.AddInt64(&c.dedupHits, 1)
	case pipeline.SourceFallback:
		atomic.AddInt64(&c.fallbacks, 1)
		atomic.AddInt64(&c.cacheMisses, 1)
	default:
		atomic.AddInt64(&c.generated, 1)
		atomic.AddInt64(&c.cacheMisses, 1)
	}
}

// IncrementActive marks a query entering the pipeline.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeQueries, 1)
}

// DecrementActive marks a query leaving the pipeline, successful or not.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeQueries, -1)
}

// Stats returns a snapshot of all counters.
func (c *Collector) Stats() *Stats {
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)
	cost := loadFloat64(&c.totalCostUSD)
	saved := loadFloat64(&c.totalSavedUSD)

	var hitRate float64
	if lookups := hits + misses; lookups > 0 {
		hitRate = float64(hits) / float64(lookups) * 100
	}
	var savingsPercent float64
	if full := cost + saved; full > 0 {
		savingsPercent = saved / full * 100
	}

	return &Stats{
		Uptime:         formatDuration(time.Since(c.startTime)),
		TotalQueries:   atomic.LoadInt64(&c.totalQueries),
		Generated:      atomic.LoadInt64(&c.generated),
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheHitRate:   hitRate,
		DedupHits:      atomic.LoadInt64(&c.dedupHits),
		Fallbacks:      atomic.LoadInt64(&c.fallbacks),
		TokensIn:       atomic.LoadInt64(&c.totalTokensIn),
		TokensOut:      atomic.LoadInt64(&c.totalTokensOut),
		CostUSD:        cost,
		SavedUSD:       saved,
		SavingsPercent: savingsPercent,
		ActiveQueries:  atomic.LoadInt64(&c.activeQueries),
	}
}

// addFloat64 atomically adds delta to the float64 stored in addr using a
// CAS loop.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// formatDuration renders an uptime like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
