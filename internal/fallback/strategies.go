package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allaspects/querygate/internal/cache"
	"github.com/allaspects/querygate/internal/tier"
)

// GenerateFunc performs a generation call at a specific tier. The
// model-downgrade strategy uses it to route a blocked request to a
// cheaper model.
type GenerateFunc func(ctx context.Context, query, category, tierName string) (content string, citations []string, costUSD float64, err error)

// ---------------------------------------------------------------------------
// 1. Cache-only
// ---------------------------------------------------------------------------

// CacheOnly serves a prior answer when one exists. Reusing a real answer
// keeps the quality score at the top of the fallback range.
type CacheOnly struct {
	Cache *cache.Cache
}

func (s *CacheOnly) Name() string { return "cache_only" }

func (s *CacheOnly) Attempt(ctx context.Context, req *Request) (*Response, bool) {
	hit, ok := s.Cache.Get(req.Query, req.Category)
	if !ok {
		return nil, false
	}
	quality := 0.8
	if hit.Confidence > quality {
		quality = hit.Confidence
	}
	return &Response{
		Content:      hit.Entry.Content,
		Strategy:     s.Name(),
		Reason:       fmt.Sprintf("served prior answer (%s match)", hit.Type),
		QualityScore: quality,
		Citations:    hit.Entry.Citations,
	}, true
}

// ---------------------------------------------------------------------------
// 2. Model downgrade
// ---------------------------------------------------------------------------

// ModelDowngrade retries the call one tier down, but only when the
// downgraded projection stays under the emergency threshold.
type ModelDowngrade struct {
	Registry *tier.Registry
	Generate GenerateFunc
}

func (s *ModelDowngrade) Name() string { return "model_downgrade" }

func (s *ModelDowngrade) Attempt(ctx context.Context, req *Request) (*Response, bool) {
	if s.Generate == nil {
		return nil, false
	}
	cheaper, ok := s.Registry.Downgrade(req.RequestedTier)
	if !ok {
		return nil, false
	}

	scaled := scaleCost(s.Registry, req.RequestedTier, cheaper.Name, req.EstCostUSD)
	if !underEmergency(req, scaled) {
		return nil, false
	}

	content, citations, cost, err := s.Generate(ctx, req.Query, req.Category, cheaper.Name)
	if err != nil || content == "" {
		return nil, false
	}
	return &Response{
		Content:      content,
		Strategy:     s.Name(),
		Reason:       fmt.Sprintf("rerouted from %s to %s", req.RequestedTier, cheaper.Name),
		CostSavedUSD: req.EstCostUSD - cost,
		QualityScore: cheaper.Quality,
		Citations:    citations,
	}, true
}

func underEmergency(req *Request, cost float64) bool {
	st := req.State
	// The per-user cap is a hard limit; a cheaper model does not lift it.
	if st.PerUserDailyLimit > 0 && req.UserID != "" &&
		st.UserDailySpend+cost >= st.PerUserDailyLimit {
		return false
	}
	if st.EmergencyThreshold <= 0 {
		return true
	}
	if st.DailyLimit > 0 && st.DailySpend+cost >= st.EmergencyThreshold*st.DailyLimit {
		return false
	}
	if st.MonthlyLimit > 0 && st.MonthlySpend+cost >= st.EmergencyThreshold*st.MonthlyLimit {
		return false
	}
	return true
}

func scaleCost(reg *tier.Registry, from, to string, cost float64) float64 {
	f, okF := reg.Get(from)
	t, okT := reg.Get(to)
	if !okF || !okT || f.InputPer1K+f.OutputPer1K == 0 {
		return 0
	}
	return cost * (t.InputPer1K + t.OutputPer1K) / (f.InputPer1K + f.OutputPer1K)
}

// ---------------------------------------------------------------------------
// 3. Local heuristic
// ---------------------------------------------------------------------------

// Heuristic answers from a keyword table. It falls through unless the raw
// query contains a recognized keyword.
type Heuristic struct {
	Table map[string]string // keyword -> short canned explanation
}

func (s *Heuristic) Name() string { return "local_heuristic" }

func (s *Heuristic) Attempt(ctx context.Context, req *Request) (*Response, bool) {
	lower := strings.ToLower(req.Query)
	for keyword, answer := range s.Table {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return &Response{
				Content:      answer,
				Strategy:     s.Name(),
				Reason:       fmt.Sprintf("keyword match on %q", keyword),
				QualityScore: 0.5,
			}, true
		}
	}
	return nil, false
}

// DefaultHeuristicTable covers the core vocabulary of the corpus so the
// heuristic step catches the most common blocked queries.
func DefaultHeuristicTable() map[string]string {
	return map[string]string{
		"dharma":     "Dharma refers to the Buddha's teachings and, more broadly, to the way things are.",
		"karma":      "Karma means intentional action; wholesome and unwholesome intentions shape future experience.",
		"meditation": "Meditation is the systematic cultivation of attention and awareness, commonly beginning with mindfulness of breathing.",
		"nirvana":    "Nirvana is the extinguishing of greed, hatred, and delusion, the goal of the Buddhist path.",
		"sangha":     "The Sangha is the community of practitioners, one of the three refuges alongside the Buddha and the Dharma.",
		"rebirth":    "Rebirth describes the continuation of the conditioned process of existence from life to life, driven by craving.",
	}
}

// ---------------------------------------------------------------------------
// 4. Templated response
// ---------------------------------------------------------------------------

// Template returns a category-specific generic answer. It always succeeds.
type Template struct {
	Templates map[string]string // category -> template
	Default   string
}

func (s *Template) Name() string { return "templated" }

func (s *Template) Attempt(ctx context.Context, req *Request) (*Response, bool) {
	content, ok := s.Templates[req.Category]
	if !ok {
		content = s.Default
	}
	if content == "" {
		content = "This topic deserves a fuller answer than the service can produce right now. Please consult a primary source or retry later."
	}
	return &Response{
		Content:      content,
		Strategy:     s.Name(),
		Reason:       "category template",
		QualityScore: 0.4,
	}, true
}

// DefaultTemplates returns the built-in per-category templates.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"dharma":     "Questions about the Dharma are best explored through the suttas themselves; a full answer will be available once service capacity returns.",
		"philosophy": "Buddhist philosophical topics reward careful study of primary texts; a complete answer will be available once service capacity returns.",
		"practice":   "For practice questions, consistency matters more than detail; a fuller answer will be available once service capacity returns.",
		"general":    "A complete answer is temporarily unavailable; please retry once service capacity returns.",
	}
}

// ---------------------------------------------------------------------------
// 5. Deferred processing
// ---------------------------------------------------------------------------

// Deferred persists the query for later processing and acknowledges it.
type Deferred struct {
	Queue *DeferredQueue
}

func (s *Deferred) Name() string { return "deferred" }

func (s *Deferred) Attempt(ctx context.Context, req *Request) (*Response, bool) {
	item := DeferredItem{
		Query:    req.Query,
		Category: req.Category,
		UserID:   req.UserID,
		Priority: req.Priority,
		QueuedAt: time.Now().UTC(),
	}
	if err := s.Queue.Append(item); err != nil {
		return nil, false
	}
	return &Response{
		Content:      "Your question has been queued and will be answered when capacity allows.",
		Strategy:     s.Name(),
		Reason:       "persisted to deferred queue",
		QualityScore: 0.3,
	}, true
}
