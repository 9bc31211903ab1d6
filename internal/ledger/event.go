package ledger

import "time"

// Operation kinds recorded in the ledger.
const (
	OpGenerate = "generate"
	OpCacheHit = "cache_hit"
	OpDedup    = "dedup"
	OpFallback = "fallback"
)

// UsageEvent is one billed (or free) generation attempt. Events are
// immutable once recorded; they are only ever aged out of the in-memory
// window, never mutated or deleted.
type UsageEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Operation    string                 `json:"operation"`
	Tier         string                 `json:"tier"`
	UserID       string                 `json:"user_id"`
	Category     string                 `json:"category"`
	TokensIn     int                    `json:"tokens_in"`
	TokensOut    int                    `json:"tokens_out"`
	CostUSD      float64                `json:"cost_usd"`
	Deduplicated bool                   `json:"deduplicated,omitempty"`
	CacheHit     bool                   `json:"cache_hit,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// BudgetState is a point-in-time snapshot of rolling spend aggregates plus
// the configured limits, as consumed by the budget validator.
type BudgetState struct {
	DailySpend   float64
	MonthlySpend float64
	// UserDailySpend is the spend for the user passed to Aggregates
	// (zero when no user was given).
	UserDailySpend float64

	DailyLimit        float64
	MonthlyLimit      float64
	PerUserDailyLimit float64

	AlertThreshold     float64
	EmergencyThreshold float64
}

// DailyPercent returns daily spend as a fraction of the daily limit,
// or 0 when no limit is configured.
func (s BudgetState) DailyPercent() float64 {
	if s.DailyLimit <= 0 {
		return 0
	}
	return s.DailySpend / s.DailyLimit
}

// MonthlyPercent returns monthly spend as a fraction of the monthly limit,
// or 0 when no limit is configured.
func (s BudgetState) MonthlyPercent() float64 {
	if s.MonthlyLimit <= 0 {
		return 0
	}
	return s.MonthlySpend / s.MonthlyLimit
}
