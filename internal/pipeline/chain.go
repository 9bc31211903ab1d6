package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allaspects/querygate/internal/tracing"
)

// recoverStage runs fn inside a deferred recover so that a panicking stage
// does not crash the entire process. If a panic is caught it is converted
// into an error that includes the stage name.
func recoverStage(name string, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("stage %s: panic: %v", name, r)
		}
	}()
	return fn()
}

// Chain executes an ordered sequence of Stages.
// Queries flow through stages in order; answers flow in reverse order.
type Chain struct {
	stages []Stage

	mu      sync.RWMutex
	timings map[string]time.Duration // latest per-stage execution times
}

// NewChain creates a new Chain from the given stages.
// Stages are executed in the order provided for queries
// and in reverse order for answers.
func NewChain(stages ...Stage) *Chain {
	return &Chain{
		stages:  stages,
		timings: make(map[string]time.Duration),
	}
}

// ProcessQuery runs each enabled stage's ProcessQuery in order.
// If any stage signals a cache hit (by setting q.Flags["cache_hit"] = true),
// the pipeline short-circuits and returns the prepared Answer stored in the
// query metadata. The returned context carries per-stage timing information.
func (c *Chain) ProcessQuery(ctx context.Context, q *Query) (*Query, *Answer, error) {
	if q.Flags == nil {
		q.Flags = make(map[string]bool)
	}

	// Prepare a timing map and inject it into the context so stages further
	// down the chain (or callers) can inspect latency data.
	timings := make(map[string]time.Duration, len(c.stages))
	ctx = WithStageTimings(ctx, timings)

	for _, st := range c.stages {
		if !st.Enabled() {
			continue
		}

		name := st.Name()
		stCtx, span := tracing.StartStageSpan(ctx, name, "query")
		start := time.Now()

		var innerQ *Query
		err := recoverStage(name, func() error {
			var stErr error
			innerQ, stErr = st.ProcessQuery(stCtx, q)
			return stErr
		})
		elapsed := time.Since(start)

		// Record timing regardless of success or failure.
		timings[name] = elapsed
		c.recordTiming(name, elapsed)

		if err != nil {
			tracing.RecordError(stCtx, err)
			span.End()
			return nil, nil, fmt.Errorf("stage %s: query processing failed: %w", name, err)
		}
		span.End()

		q = innerQ
		if q == nil {
			return nil, nil, fmt.Errorf("stage %s: returned nil query without error", name)
		}

		// Check for cache-hit short-circuit.
		if q.Flags["cache_hit"] {
			a, ok := q.Metadata["cached_answer"].(*Answer)
			if !ok || a == nil {
				return nil, nil, fmt.Errorf("stage %s: flagged cache_hit but no Answer found", name)
			}
			return q, a, nil
		}
	}

	return q, nil, nil
}

// ProcessAnswer runs each enabled stage's ProcessAnswer in reverse order.
func (c *Chain) ProcessAnswer(ctx context.Context, q *Query, a *Answer) (*Answer, error) {
	// Retrieve or create the timing map.
	timings, ok := GetStageTimings(ctx)
	if !ok {
		timings = make(map[string]time.Duration, len(c.stages))
		ctx = WithStageTimings(ctx, timings)
	}

	for i := len(c.stages) - 1; i >= 0; i-- {
		st := c.stages[i]
		if !st.Enabled() {
			continue
		}

		name := st.Name()
		stCtx, span := tracing.StartStageSpan(ctx, name, "answer")
		start := time.Now()

		var innerA *Answer
		err := recoverStage(name, func() error {
			var stErr error
			innerA, stErr = st.ProcessAnswer(stCtx, q, a)
			return stErr
		})
		elapsed := time.Since(start)

		timings[name+".answer"] = elapsed
		c.recordTiming(name+".answer", elapsed)

		if err != nil {
			tracing.RecordError(stCtx, err)
			span.End()
			return nil, fmt.Errorf("stage %s: answer processing failed: %w", name, err)
		}
		span.End()

		a = innerA
		if a == nil {
			return nil, fmt.Errorf("stage %s: returned nil answer without error", name)
		}
	}

	return a, nil
}

// Timings returns a snapshot of the latest per-stage execution times.
func (c *Chain) Timings() map[string]time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]time.Duration, len(c.timings))
	for k, v := range c.timings {
		snapshot[k] = v
	}
	return snapshot
}

// Stages returns the ordered list of stages in the chain.
func (c *Chain) Stages() []Stage {
	result := make([]Stage, len(c.stages))
	copy(result, c.stages)
	return result
}

// recordTiming stores the latest execution time for a stage phase.
func (c *Chain) recordTiming(name string, d time.Duration) {
	c.mu.Lock()
	c.timings[name] = d
	c.mu.Unlock()
}
