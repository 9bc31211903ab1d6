package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/allaspects/querygate/internal/budget"
	"github.com/allaspects/querygate/internal/cache"
	"github.com/allaspects/querygate/internal/ledger"
	"github.com/allaspects/querygate/internal/limits"
	"github.com/allaspects/querygate/internal/pipeline"
	"github.com/allaspects/querygate/internal/switcher"
	"github.com/allaspects/querygate/internal/tier"
)

// Flag and metadata keys shared between the stages and the orchestrator.
// flagCacheHit and metaCachedAnswer are the chain's short-circuit contract.
const (
	flagCacheHit       = "cache_hit"
	flagBlocked        = "blocked"
	flagLimitDowngrade = "limit_downgrade"

	metaCachedAnswer   = "cached_answer"
	metaSwitchDecision = "switch_decision"
	metaChosenTier     = "chosen_tier"
	metaBudgetVerdict  = "budget_verdict"
	metaBlockReason    = "block_reason"
	metaLimitsAction   = "limits_action"
)

// queuePriorityPenalty pushes queue-action requests behind normal traffic
// in the batch drain order.
const queuePriorityPenalty = 10

// ---------------------------------------------------------------------------
// Limits stage
// ---------------------------------------------------------------------------

// limitsStage enforces per-user quotas on the way in and records consumed
// usage on the way out.
type limitsStage struct {
	mgr *limits.Manager
	reg *tier.Registry
}

func (s *limitsStage) Name() string  { return "limits" }
func (s *limitsStage) Enabled() bool { return true }

func (s *limitsStage) ProcessQuery(ctx context.Context, q *pipeline.Query) (*pipeline.Query, error) {
	top := s.reg.Top()
	estCost := s.reg.Cost(top.Name, q.EstTokensIn, 0)

	d := s.mgr.CheckUsage(q.UserID, q.EstTokensIn, estCost, 1)
	q.Metadata[metaLimitsAction] = d.Action.String()

	switch d.Action {
	case limits.ActionAllow:
	case limits.ActionWarn:
		log.Warn().Str("user_id", q.UserID).Str("detail", d.Message).
			Msg("user approaching quota")
	case limits.ActionThrottle:
		// Throttled traffic still runs, but behind everything else.
		q.Priority += queuePriorityPenalty
	case limits.ActionDowngrade:
		q.Flags[flagLimitDowngrade] = true
	case limits.ActionQueue:
		q.Priority += queuePriorityPenalty
	case limits.ActionBlock:
		q.Flags[flagBlocked] = true
		q.Metadata[metaBlockReason] = d.Message
	}
	return q, nil
}

func (s *limitsStage) ProcessAnswer(ctx context.Context, q *pipeline.Query, a *pipeline.Answer) (*pipeline.Answer, error) {
	s.mgr.RecordUsage(q.UserID, a.TokensIn+a.TokensOut, a.CostUSD, 1)
	return a, nil
}

// ---------------------------------------------------------------------------
// Cache stage
// ---------------------------------------------------------------------------

// cacheStage short-circuits the chain on a hit and writes fresh generated
// answers back on the return path.
type cacheStage struct {
	cache *cache.Cache
	reg   *tier.Registry
}

func (s *cacheStage) Name() string  { return "cache" }
func (s *cacheStage) Enabled() bool { return true }

func (s *cacheStage) ProcessQuery(ctx context.Context, q *pipeline.Query) (*pipeline.Query, error) {
	hit, ok := s.cache.Get(q.Text, q.Category)
	if !ok {
		return q, nil
	}

	source := pipeline.SourceCacheExact
	if hit.Type == cache.HitSimilar {
		source = pipeline.SourceCacheSimilar
	}
	e := hit.Entry
	savedTier := e.Tier
	if savedTier == "" {
		savedTier = s.reg.Top().Name
	}
	a := &pipeline.Answer{
		QueryID:      q.ID,
		Content:      e.Content,
		Source:       source,
		Tier:         e.Tier,
		CacheType:    hit.Type,
		Confidence:   hit.Confidence,
		QualityScore: e.QualityScore,
		Citations:    e.Citations,
		// What a fresh generation of this answer would have cost.
		SavedUSD: s.reg.Cost(savedTier, e.TokensIn, e.TokensOut),
		Metadata: map[string]interface{}{"cache_key": e.Key},
	}

	q.Flags[flagCacheHit] = true
	q.Metadata[metaCachedAnswer] = a
	return q, nil
}

func (s *cacheStage) ProcessAnswer(ctx context.Context, q *pipeline.Query, a *pipeline.Answer) (*pipeline.Answer, error) {
	if a.Source == pipeline.SourceGenerated && !a.Deduplicated && a.Content != "" {
		s.cache.Put(cache.PutInput{
			Query:        q.Text,
			Category:     q.Category,
			Content:      a.Content,
			Citations:    a.Citations,
			Tier:         a.Tier,
			TokensIn:     a.TokensIn,
			TokensOut:    a.TokensOut,
			CostUSD:      a.CostUSD,
			QualityScore: a.QualityScore,
		})
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Switch stage
// ---------------------------------------------------------------------------

// switchStage picks the model tier for the request from complexity and
// budget pressure.
type switchStage struct {
	sw  *switcher.Switcher
	led *ledger.Ledger
}

func (s *switchStage) Name() string  { return "switch" }
func (s *switchStage) Enabled() bool { return true }

func (s *switchStage) ProcessQuery(ctx context.Context, q *pipeline.Query) (*pipeline.Query, error) {
	state := s.led.Aggregates(q.UserID)
	percent := state.DailyPercent()
	if m := state.MonthlyPercent(); m > percent {
		percent = m
	}
	emergency := state.EmergencyThreshold > 0 && percent >= state.EmergencyThreshold

	d := s.sw.Recommend(switcher.Input{
		Query:           q.Text,
		Category:        q.Category,
		UserID:          q.UserID,
		ForceTopQuality: q.ForceTopQuality,
		BudgetPercent:   percent,
		Emergency:       emergency || q.Flags[flagLimitDowngrade],
	})

	q.Metadata[metaSwitchDecision] = d
	q.Metadata[metaChosenTier] = d.ChosenTier
	return q, nil
}

func (s *switchStage) ProcessAnswer(ctx context.Context, q *pipeline.Query, a *pipeline.Answer) (*pipeline.Answer, error) {
	if d, ok := q.Metadata[metaSwitchDecision].(*switcher.Decision); ok {
		if a.Metadata == nil {
			a.Metadata = make(map[string]interface{})
		}
		a.Metadata["switch_reason"] = d.Reason
		a.Metadata["switch_original_tier"] = d.OriginalTier
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Budget stage
// ---------------------------------------------------------------------------

// budgetStage validates the projected spend of the chosen tier. A block
// verdict does not abort the chain: the orchestrator routes blocked
// queries to the fallback engine.
type budgetStage struct {
	led *ledger.Ledger
	reg *tier.Registry
}

func (s *budgetStage) Name() string  { return "budget" }
func (s *budgetStage) Enabled() bool { return true }

func (s *budgetStage) ProcessQuery(ctx context.Context, q *pipeline.Query) (*pipeline.Query, error) {
	chosen, _ := q.Metadata[metaChosenTier].(string)
	estCost := 0.0
	if d, ok := q.Metadata[metaSwitchDecision].(*switcher.Decision); ok {
		estCost = d.EstCostUSD
	}

	state := s.led.Aggregates(q.UserID)
	v := budget.Validate(state, "generate", chosen, q.UserID, estCost, s.reg)
	q.Metadata[metaBudgetVerdict] = v

	switch v.Action {
	case budget.Allow:
	case budget.Warn:
		log.Warn().Str("query_id", q.ID).Str("detail", v.Message).
			Msg("spend approaching budget limit")
	case budget.Downgrade:
		log.Info().Str("query_id", q.ID).
			Str("from", chosen).Str("to", v.SuggestedTier).
			Msg("tier downgraded by budget pressure")
		q.Metadata[metaChosenTier] = v.SuggestedTier
	case budget.Block:
		q.Flags[flagBlocked] = true
		q.Metadata[metaBlockReason] = v.Message
	}
	return q, nil
}

func (s *budgetStage) ProcessAnswer(ctx context.Context, q *pipeline.Query, a *pipeline.Answer) (*pipeline.Answer, error) {
	return a, nil
}
