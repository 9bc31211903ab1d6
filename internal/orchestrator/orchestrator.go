// Package orchestrator wires every gateway component into a single query
// path: quota check, cache lookup, tier selection, budget validation,
// batched generation, and the fallback chain when generation is blocked
// or fails. Callers always receive an answer; the error return covers
// only context cancellation and shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspects/querygate/internal/batch"
	"github.com/allaspects/querygate/internal/budget"
	"github.com/allaspects/querygate/internal/cache"
	"github.com/allaspects/querygate/internal/config"
	"github.com/allaspects/querygate/internal/fallback"
	"github.com/allaspects/querygate/internal/ledger"
	"github.com/allaspects/querygate/internal/limits"
	"github.com/allaspects/querygate/internal/metrics"
	"github.com/allaspects/querygate/internal/pipeline"
	"github.com/allaspects/querygate/internal/store"
	"github.com/allaspects/querygate/internal/switcher"
	"github.com/allaspects/querygate/internal/tier"
	"github.com/allaspects/querygate/internal/tokenizer"
	"github.com/allaspects/querygate/internal/tracing"
)

// Options carries the per-request knobs a caller can set.
type Options struct {
	UserID          string
	Category        string
	Priority        int
	ForceTopQuality bool
}

// Status is the operational snapshot served by the status command.
type Status struct {
	Stats           *metrics.Stats           `json:"stats"`
	Budget          ledger.BudgetState       `json:"budget"`
	CacheEntries    int                      `json:"cache_entries"`
	PendingRequests int                      `json:"pending_requests"`
	StageTimings    map[string]time.Duration `json:"stage_timings"`
}

// Orchestrator owns the full query path and every component behind it.
type Orchestrator struct {
	cfg      *config.Config
	reg      *tier.Registry
	tok      *tokenizer.Tokenizer
	store    *store.Store
	cache    *cache.Cache
	journal  *ledger.Journal
	ledger   *ledger.Ledger
	switcher *switcher.Switcher
	limits   *limits.Manager
	batcher  *batch.Batcher
	deferred *fallback.DeferredQueue
	fb       *fallback.Engine
	metrics  *metrics.Collector
	chain    *pipeline.Chain
	gen      Generator

	now func() time.Time // test hook
}

// New builds an Orchestrator from configuration. The data directory is
// created on demand; cached answers and journaled usage events from prior
// runs are replayed before the first query is accepted.
func New(cfg *config.Config, gen Generator) (*Orchestrator, error) {
	if gen == nil {
		return nil, fmt.Errorf("orchestrator: generator is required")
	}

	reg, err := buildRegistry(cfg.Tiers)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(filepath.Join(cfg.Server.DataDir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open answer store: %w", err)
	}

	c, err := cache.New(cache.Options{
		MaxSize:             cfg.Cache.MaxSize,
		MaxAge:              time.Duration(cfg.Cache.MaxAgeDays) * 24 * time.Hour,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		HotEntries:          cfg.Cache.HotEntries,
		StopPhrases:         cfg.Cache.StopPhrases,
		Synonyms:            cfg.Cache.Synonyms,
		Persister:           st,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("orchestrator: build cache: %w", err)
	}
	if n, err := c.Load(); err != nil {
		log.Warn().Err(err).Msg("orchestrator: cache reload failed, starting cold")
	} else if n > 0 {
		log.Info().Int("entries", n).Msg("orchestrator: cache reloaded")
	}

	journal, err := ledger.OpenJournal(
		filepath.Join(cfg.Server.DataDir, "journal"), cfg.Ledger.JournalBuffer)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("orchestrator: open usage journal: %w", err)
	}

	led := ledger.New(ledger.Limits{
		DailyLimit:         cfg.Budget.DailyLimit,
		MonthlyLimit:       cfg.Budget.MonthlyLimit,
		PerUserDailyLimit:  cfg.Budget.PerUserDailyLimit,
		AlertThreshold:     cfg.Budget.AlertThreshold,
		EmergencyThreshold: cfg.Budget.EmergencyThreshold,
	}, cfg.Ledger.RetentionDays, journal)
	if n, err := journal.ReplayInto(led); err != nil {
		log.Warn().Err(err).Msg("orchestrator: journal replay incomplete")
	} else if n > 0 {
		log.Info().Int("events", n).Msg("orchestrator: usage journal replayed")
	}

	deferredPath := deferredQueuePath(cfg)
	dq, err := fallback.OpenDeferredQueue(deferredPath)
	if err != nil {
		journal.Close()
		st.Close()
		return nil, fmt.Errorf("orchestrator: open deferred queue: %w", err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		reg:      reg,
		tok:      tokenizer.New(),
		store:    st,
		cache:    c,
		journal:  journal,
		ledger:   led,
		limits:   limits.NewManager(cfg.Limits.Enabled, nil, cfg.Limits.UserTiers),
		deferred: dq,
		metrics:  metrics.NewCollector(),
		gen:      gen,
		now:      time.Now,
	}

	o.switcher = switcher.New(switcher.Options{
		BaseLength:      cfg.Switcher.BaseLength,
		HighKeywords:    cfg.Switcher.HighKeywords,
		LowKeywords:     cfg.Switcher.LowKeywords,
		CategoryWeights: cfg.Switcher.CategoryWeights,
	}, reg, o.tok)

	o.fb = fallback.NewEngine(
		&fallback.CacheOnly{Cache: c},
		&fallback.ModelDowngrade{Registry: reg, Generate: o.fallbackGenerate},
		&fallback.Heuristic{Table: fallback.DefaultHeuristicTable()},
		&fallback.Template{Templates: fallback.DefaultTemplates()},
		&fallback.Deferred{Queue: dq},
	)

	o.batcher, err = batch.New(batch.Options{
		BatchSize:   cfg.Batch.BatchSize,
		Timeout:     cfg.Batch.BatchTimeout(),
		DedupWindow: cfg.Batch.DedupWindow(),
		DedupSize:   cfg.Batch.DedupCapacity,
		KeyFunc: func(query, category string) string {
			return cache.Key(c.Normalizer().Normalize(query), category)
		},
		Dispatch: o.dispatch,
	})
	if err != nil {
		journal.Close()
		st.Close()
		return nil, fmt.Errorf("orchestrator: build batcher: %w", err)
	}

	o.chain = pipeline.NewChain(
		&limitsStage{mgr: o.limits, reg: reg},
		&cacheStage{cache: c, reg: reg},
		&switchStage{sw: o.switcher, led: led},
		&budgetStage{led: led, reg: reg},
	)

	return o, nil
}

// Answer runs one query through the gateway. The returned answer is never
// nil when the error is nil; a blocked or failed generation still produces
// a fallback answer rather than an error.
func (o *Orchestrator) Answer(ctx context.Context, text string, opts Options) (*pipeline.Answer, error) {
	start := o.now()
	o.metrics.IncrementActive()
	defer o.metrics.DecrementActive()

	ctx, span := tracing.StartPipelineSpan(ctx, "answer")
	defer span.End()

	category := opts.Category
	if category == "" {
		category = "general"
	}
	q := &pipeline.Query{
		ID:              uuid.NewString(),
		SubmittedAt:     start,
		UserID:          opts.UserID,
		Category:        category,
		Text:            text,
		Priority:        opts.Priority,
		ForceTopQuality: opts.ForceTopQuality,
		EstTokensIn:     o.tok.CountPrompt(text),
		Metadata:        make(map[string]interface{}),
		Flags:           make(map[string]bool),
	}

	tracing.SetQueryAttributes(ctx, q.ID, q.UserID, q.Category)

	if opts.UserID != "" {
		o.limits.Acquire(opts.UserID)
		defer o.limits.Release(opts.UserID)
	}

	q, cached, err := o.chain.ProcessQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	var a *pipeline.Answer
	switch {
	case cached != nil:
		a = cached
		o.recordEvent(q, a)
	case q.Flags[flagBlocked]:
		a = o.fallbackAnswer(ctx, q)
	default:
		a, err = o.generate(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().Err(err).Str("query_id", q.ID).
				Msg("orchestrator: generation failed, using fallback")
			q.Metadata[metaBlockReason] = err.Error()
			a = o.fallbackAnswer(ctx, q)
		}
	}

	a, err = o.chain.ProcessAnswer(ctx, q, a)
	if err != nil {
		return nil, err
	}
	a.Latency = o.now().Sub(start)
	o.metrics.Record(a)
	tracing.SetAnswerAttributes(ctx, a.Source, a.Tier, a.CostUSD, a.Deduplicated)
	return a, nil
}

// generate routes the query through the batcher to the paid backend.
func (o *Orchestrator) generate(ctx context.Context, q *pipeline.Query) (*pipeline.Answer, error) {
	chosen, _ := q.Metadata[metaChosenTier].(string)
	res, err := o.batcher.Submit(ctx, &batch.Request{
		ID:          q.ID,
		Query:       q.Text,
		Category:    q.Category,
		UserID:      q.UserID,
		Priority:    q.Priority,
		Tier:        chosen,
		SubmittedAt: q.SubmittedAt,
	})
	if err != nil {
		return nil, err
	}

	a := &pipeline.Answer{
		QueryID:      q.ID,
		Content:      res.Content,
		Source:       pipeline.SourceGenerated,
		Tier:         res.Tier,
		TokensIn:     res.TokensIn,
		TokensOut:    res.TokensOut,
		CostUSD:      res.CostUSD,
		QualityScore: res.QualityScore,
		Citations:    res.Citations,
		Deduplicated: res.Deduplicated,
		Metadata:     make(map[string]interface{}),
	}
	if res.Deduplicated {
		a.Source = pipeline.SourceDedup
		// The owning request paid; this caller's saving is what the call
		// would have cost.
		if d, ok := q.Metadata[metaSwitchDecision].(*switcher.Decision); ok {
			a.SavedUSD = d.EstCostUSD
		}
	} else if d, ok := q.Metadata[metaSwitchDecision].(*switcher.Decision); ok {
		a.SavedUSD = d.SavingsUSD
	}
	o.recordEvent(q, a)
	return a, nil
}

// fallbackAnswer produces a degraded-service answer for a blocked or
// failed query.
func (o *Orchestrator) fallbackAnswer(ctx context.Context, q *pipeline.Query) *pipeline.Answer {
	chosen, _ := q.Metadata[metaChosenTier].(string)
	estCost := 0.0
	if d, ok := q.Metadata[metaSwitchDecision].(*switcher.Decision); ok {
		estCost = d.EstCostUSD
	}
	var retryAfter time.Duration
	if v, ok := q.Metadata[metaBudgetVerdict].(budget.Verdict); ok {
		retryAfter = v.RetryAfter
	}

	resp := o.fb.Respond(ctx, &fallback.Request{
		Query:         q.Text,
		Category:      q.Category,
		UserID:        q.UserID,
		Priority:      q.Priority,
		RequestedTier: chosen,
		EstCostUSD:    estCost,
		State:         o.ledger.Aggregates(q.UserID),
		RetryAfter:    retryAfter,
	})

	a := &pipeline.Answer{
		QueryID:      q.ID,
		Content:      resp.Content,
		Source:       pipeline.SourceFallback,
		Strategy:     resp.Strategy,
		SavedUSD:     resp.CostSavedUSD,
		QualityScore: resp.QualityScore,
		Citations:    resp.Citations,
		Metadata:     resp.Metadata,
	}
	if reason, ok := q.Metadata[metaBlockReason].(string); ok {
		if a.Metadata == nil {
			a.Metadata = make(map[string]interface{})
		}
		a.Metadata["block_reason"] = reason
	}
	o.recordEvent(q, a)
	return a
}

// dispatch is the batcher's generation hook. Cost is computed from actual
// token usage at the request's tier rates.
func (o *Orchestrator) dispatch(ctx context.Context, req *batch.Request) (*batch.Result, error) {
	ctx, span := tracing.StartGenerateSpan(ctx, req.Tier)
	defer span.End()

	g, err := o.gen.Generate(ctx, req.Query, req.Category, req.Tier)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	t, _ := o.reg.Get(req.Tier)
	return &batch.Result{
		Content:      g.Content,
		Citations:    g.Citations,
		Tier:         req.Tier,
		TokensIn:     g.TokensIn,
		TokensOut:    g.TokensOut,
		CostUSD:      o.reg.Cost(req.Tier, g.TokensIn, g.TokensOut),
		QualityScore: t.Quality,
	}, nil
}

// fallbackGenerate adapts the backend for the model-downgrade strategy and
// bills its spend to the ledger, since the answer bypasses the normal
// generation path.
func (o *Orchestrator) fallbackGenerate(ctx context.Context, query, category, tierName string) (string, []string, float64, error) {
	ctx, span := tracing.StartGenerateSpan(ctx, tierName)
	defer span.End()

	g, err := o.gen.Generate(ctx, query, category, tierName)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", nil, 0, err
	}
	cost := o.reg.Cost(tierName, g.TokensIn, g.TokensOut)
	o.ledger.Record(ledger.UsageEvent{
		ID:        uuid.NewString(),
		Operation: ledger.OpGenerate,
		Tier:      tierName,
		Category:  category,
		TokensIn:  g.TokensIn,
		TokensOut: g.TokensOut,
		CostUSD:   cost,
		Metadata:  map[string]interface{}{"strategy": "model_downgrade"},
	})
	return g.Content, g.Citations, cost, nil
}

// recordEvent writes the answer to the usage ledger.
func (o *Orchestrator) recordEvent(q *pipeline.Query, a *pipeline.Answer) {
	op := ledger.OpGenerate
	switch a.Source {
	case pipeline.SourceCacheExact, pipeline.SourceCacheSimilar:
		op = ledger.OpCacheHit
	case pipeline.SourceDedup:
		op = ledger.OpDedup
	case pipeline.SourceFallback:
		op = ledger.OpFallback
	}
	o.ledger.Record(ledger.UsageEvent{
		ID:           uuid.NewString(),
		Operation:    op,
		Tier:         a.Tier,
		UserID:       q.UserID,
		Category:     q.Category,
		TokensIn:     a.TokensIn,
		TokensOut:    a.TokensOut,
		CostUSD:      a.CostUSD,
		Deduplicated: a.Deduplicated,
		CacheHit:     op == ledger.OpCacheHit,
	})
}

// Reload applies the runtime-tunable parts of a freshly loaded config:
// budget limits and thresholds, the cache similarity threshold, and the
// switcher's scoring parameters. Structural settings (data dir, cache size,
// tier table, cache normalization tables) need a restart.
func (o *Orchestrator) Reload(cfg *config.Config) {
	o.ledger.SetLimits(ledger.Limits{
		DailyLimit:         cfg.Budget.DailyLimit,
		MonthlyLimit:       cfg.Budget.MonthlyLimit,
		PerUserDailyLimit:  cfg.Budget.PerUserDailyLimit,
		AlertThreshold:     cfg.Budget.AlertThreshold,
		EmergencyThreshold: cfg.Budget.EmergencyThreshold,
	})
	o.cache.SetSimilarityThreshold(cfg.Cache.SimilarityThreshold)
	o.switcher.Retune(switcher.Options{
		BaseLength:      cfg.Switcher.BaseLength,
		HighKeywords:    cfg.Switcher.HighKeywords,
		LowKeywords:     cfg.Switcher.LowKeywords,
		CategoryWeights: cfg.Switcher.CategoryWeights,
	})
	log.Info().Msg("orchestrator: runtime tunables reloaded")
}

// Status returns a point-in-time operational snapshot.
func (o *Orchestrator) Status() *Status {
	return &Status{
		Stats:           o.metrics.Stats(),
		Budget:          o.ledger.Aggregates(""),
		CacheEntries:    o.cache.Len(),
		PendingRequests: o.batcher.PendingLen(),
		StageTimings:    o.chain.Timings(),
	}
}

// Budget returns the current spend aggregates for a user (empty for the
// global view).
func (o *Orchestrator) Budget(userID string) ledger.BudgetState {
	return o.ledger.Aggregates(userID)
}

// Limits exposes the per-user quota manager for admin operations.
func (o *Orchestrator) Limits() *limits.Manager {
	return o.limits
}

// Deferred returns the queue of questions persisted for later processing.
func (o *Orchestrator) Deferred() *fallback.DeferredQueue {
	return o.deferred
}

// Close flushes pending work and releases every resource. Safe to call
// once; pending batched requests are dispatched before shutdown.
func (o *Orchestrator) Close() error {
	o.batcher.Close()
	o.ledger.Reconcile()
	o.journal.Close()
	return o.store.Close()
}

// deferredQueuePath anchors a relative queue file in the data directory.
func deferredQueuePath(cfg *config.Config) string {
	path := cfg.Fallback.DeferredQueueFile
	if path == "" {
		path = "deferred.jsonl"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Server.DataDir, path)
	}
	return path
}

// buildRegistry converts configured tiers into the runtime registry.
func buildRegistry(tiers map[string]config.TierConfig) (*tier.Registry, error) {
	m := make(map[string]tier.Tier, len(tiers))
	for name, tc := range tiers {
		m[name] = tier.Tier{
			Name:        name,
			Quality:     tc.Quality,
			InputPer1K:  tc.InputPer1K,
			OutputPer1K: tc.OutputPer1K,
			Rank:        tc.Rank,
		}
	}
	reg, err := tier.NewRegistry(m)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: tier registry: %w", err)
	}
	return reg, nil
}
