// Package fallback produces a degraded-service answer when normal
// generation is blocked or fails. Strategies are tried in a fixed order
// until one yields a result; the final graceful-denial step always
// succeeds, so the engine never returns nil.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspects/querygate/internal/ledger"
)

// Request is the query the fallback chain must answer, plus the budget
// picture that got it here.
type Request struct {
	Query         string
	Category      string
	UserID        string
	Priority      int
	RequestedTier string
	// EstCostUSD is the projected cost of the blocked call at the
	// requested tier.
	EstCostUSD float64
	State      ledger.BudgetState
	RetryAfter time.Duration
}

// Response is what a strategy produced. CostSavedUSD is measured against
// the full-price call that did not happen.
type Response struct {
	Content      string
	Strategy     string
	Reason       string
	CostSavedUSD float64
	QualityScore float64
	Citations    []string
	Metadata     map[string]interface{}
}

// Strategy is one degraded-service behavior. Attempt reports false to fall
// through to the next strategy.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req *Request) (*Response, bool)
}

// Engine runs the ordered strategy chain.
type Engine struct {
	strategies []Strategy
}

// NewEngine creates an Engine with the given strategies in attempt order.
// The graceful-denial terminal step is built into Respond and need not be
// listed.
func NewEngine(strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies}
}

// Respond walks the chain and always returns a non-nil response with
// non-empty content. A panicking strategy is logged and skipped.
func (e *Engine) Respond(ctx context.Context, req *Request) *Response {
	for _, s := range e.strategies {
		if resp, ok := e.attempt(ctx, s, req); ok && resp != nil && resp.Content != "" {
			e.stamp(resp, req)
			log.Info().
				Str("strategy", resp.Strategy).
				Str("category", req.Category).
				Float64("quality", resp.QualityScore).
				Msg("fallback: strategy produced a response")
			return resp
		}
	}
	resp := denial(req)
	e.stamp(resp, req)
	return resp
}

func (e *Engine) attempt(ctx context.Context, s Strategy, req *Request) (resp *Response, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("strategy", s.Name()).Interface("panic", r).
				Msg("fallback: strategy panicked, falling through")
			resp, ok = nil, false
		}
	}()
	return s.Attempt(ctx, req)
}

// stamp fills the fields every fallback response carries.
func (e *Engine) stamp(resp *Response, req *Request) {
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]interface{})
	}
	resp.Metadata["budget_percent"] = budgetPercent(req.State)
	if resp.CostSavedUSD == 0 {
		resp.CostSavedUSD = req.EstCostUSD
	}
}

// denial is the terminal strategy: plain struct construction and string
// formatting only, nothing here can fail.
func denial(req *Request) *Response {
	pct := budgetPercent(req.State)
	retry := "after the daily budget resets"
	if req.RetryAfter > 0 {
		retry = fmt.Sprintf("in about %s", req.RetryAfter.Round(time.Minute))
	}
	return &Response{
		Content: fmt.Sprintf(
			"I can't answer this right now: the service budget is at %.0f%% of its limit. "+
				"Please try again %s.", pct*100, retry),
		Strategy:     "graceful_denial",
		Reason:       "all fallback strategies exhausted",
		QualityScore: 0.1,
	}
}

func budgetPercent(state ledger.BudgetState) float64 {
	p := state.DailyPercent()
	if m := state.MonthlyPercent(); m > p {
		p = m
	}
	return p
}
