package pipeline

import (
	"context"
	"time"
)

// Answer sources.
const (
	SourceGenerated    = "generated"
	SourceCacheExact   = "cache_exact"
	SourceCacheSimilar = "cache_similar"
	SourceDedup        = "dedup"
	SourceFallback     = "fallback"
)

// Query represents a normalized user query flowing through the pipeline.
type Query struct {
	ID          string
	SubmittedAt time.Time
	UserID      string
	Category    string
	Text        string
	Priority    int

	// ForceTopQuality pins the request to the most capable tier regardless
	// of budget pressure (still subject to hard per-user caps).
	ForceTopQuality bool

	EstTokensIn int
	Metadata    map[string]interface{}
	Flags       map[string]bool
}

// Answer represents the response produced for a Query.
type Answer struct {
	QueryID      string
	Content      string
	Source       string
	Strategy     string // set when Source == SourceFallback
	Tier         string
	CacheType    string // "exact" or "similar" for cache hits
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	SavedUSD     float64
	Confidence   float64
	QualityScore float64
	Citations    []string
	Deduplicated bool
	Latency      time.Duration
	Metadata     map[string]interface{}
}

// Stage is the interface all pipeline stages implement.
type Stage interface {
	// Name returns the unique name of this stage.
	Name() string

	// Enabled reports whether this stage is active.
	Enabled() bool

	// ProcessQuery processes an incoming query. A stage may modify the
	// query, short-circuit the pipeline by setting q.Flags["cache_hit"]=true
	// and storing a prepared *Answer under q.Metadata["cached_answer"], or
	// return an error to abort.
	ProcessQuery(ctx context.Context, q *Query) (*Query, error)

	// ProcessAnswer processes an outgoing answer. A stage may modify the
	// answer or return an error.
	ProcessAnswer(ctx context.Context, q *Query, a *Answer) (*Answer, error)
}

// contextKey is an unexported type for context keys in this package.
type contextKey string

// stageTimingsKey is the context key for storing per-stage latency.
const stageTimingsKey contextKey = "stage_timings"

// WithStageTimings stores the stage timing map in the context.
func WithStageTimings(ctx context.Context, timings map[string]time.Duration) context.Context {
	return context.WithValue(ctx, stageTimingsKey, timings)
}

// GetStageTimings retrieves the stage timing map from the context.
func GetStageTimings(ctx context.Context) (map[string]time.Duration, bool) {
	t, ok := ctx.Value(stageTimingsKey).(map[string]time.Duration)
	return t, ok
}
