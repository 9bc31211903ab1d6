// Package budget decides whether a proposed operation may spend money.
// Validate is a pure function of the current BudgetState and the proposed
// operation; it performs no I/O and holds no state, so callers can evaluate
// it anywhere without locking.
package budget

import (
	"fmt"
	"time"

	"github.com/allaspects/querygate/internal/ledger"
	"github.com/allaspects/querygate/internal/tier"
)

// Action is the validator's verdict on a proposed operation.
type Action int

const (
	Allow Action = iota
	Warn
	Downgrade
	Block
)

// String returns the lower-case name of the action.
func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	case Downgrade:
		return "downgrade"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Verdict is the full decision for a proposed operation. BudgetExceeded is
// not an error: a Block verdict is a first-class result the caller routes
// to the fallback chain.
type Verdict struct {
	Action        Action
	Message       string
	SuggestedTier string        // set on Downgrade
	RetryAfter    time.Duration // set on Block: time until the daily reset
}

// Validate evaluates the decision ladder for a proposed operation costing
// estCost USD at the requested tier:
//
//  1. A projected breach of the user's daily cap blocks outright; user caps
//     are hard and get no cheaper-tier suggestion.
//  2. At or past the emergency threshold on the daily or monthly budget,
//     one tier downgrade is attempted; if the downgraded projection stays
//     under the emergency threshold the verdict is Downgrade, else Block.
//  3. At or past the alert threshold the operation proceeds with a Warn.
//  4. Otherwise Allow.
//
// The downgrade path follows the registry's fixed total order and never
// goes past the cheapest tier.
func Validate(state ledger.BudgetState, operation, requestedTier, userID string, estCost float64, reg *tier.Registry) Verdict {
	// 1. Hard per-user daily cap.
	if state.PerUserDailyLimit > 0 && userID != "" {
		projected := state.UserDailySpend + estCost
		if projected >= state.PerUserDailyLimit {
			return Verdict{
				Action: Block,
				Message: fmt.Sprintf("daily budget for user %s exhausted: projected $%.4f of $%.4f cap",
					userID, projected, state.PerUserDailyLimit),
				RetryAfter: untilNextDay(time.Now().UTC()),
			}
		}
	}

	emergency := state.EmergencyThreshold
	alert := state.AlertThreshold

	// 2. Emergency: try one downgrade before blocking.
	if exceedsFraction(state, estCost, emergency) {
		if cheaper, ok := downgradedCost(requestedTier, estCost, reg); ok {
			if !exceedsFraction(state, cheaper.cost, emergency) {
				return Verdict{
					Action:        Downgrade,
					SuggestedTier: cheaper.name,
					Message: fmt.Sprintf("budget at %.0f%%: %s downgraded from %s to %s",
						100*maxPercent(state), operation, requestedTier, cheaper.name),
				}
			}
		}
		return Verdict{
			Action: Block,
			Message: fmt.Sprintf("budget exhausted at %.0f%% of limit; %s refused",
				100*maxPercent(state), operation),
			RetryAfter: untilNextDay(time.Now().UTC()),
		}
	}

	// 3. Warning territory: proceed at the requested tier.
	if exceedsFraction(state, estCost, alert) {
		return Verdict{
			Action: Warn,
			Message: fmt.Sprintf("budget at %.0f%% of limit; %s proceeding at %s",
				100*maxPercent(state), operation, requestedTier),
		}
	}

	return Verdict{Action: Allow}
}

// exceedsFraction reports whether the projected daily or monthly spend
// meets or exceeds the given fraction of its limit.
func exceedsFraction(state ledger.BudgetState, estCost, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if state.DailyLimit > 0 && (state.DailySpend+estCost) >= fraction*state.DailyLimit {
		return true
	}
	if state.MonthlyLimit > 0 && (state.MonthlySpend+estCost) >= fraction*state.MonthlyLimit {
		return true
	}
	return false
}

// maxPercent returns the higher of the daily and monthly spend fractions.
func maxPercent(state ledger.BudgetState) float64 {
	d := state.DailyPercent()
	if m := state.MonthlyPercent(); m > d {
		return m
	}
	return d
}

type costedTier struct {
	name string
	cost float64
}

// downgradedCost returns the next cheaper tier and the operation's cost
// re-estimated at that tier's rates, scaling the original estimate by the
// rate ratio.
func downgradedCost(requestedTier string, estCost float64, reg *tier.Registry) (costedTier, bool) {
	cheaper, ok := reg.Downgrade(requestedTier)
	if !ok {
		return costedTier{}, false
	}

	current, ok := reg.Get(requestedTier)
	if !ok || current.InputPer1K+current.OutputPer1K == 0 {
		// Free or unknown requested tier: nothing to scale against, and a
		// downgrade from a free tier cannot cost more than zero.
		return costedTier{name: cheaper.Name, cost: 0}, true
	}

	ratio := (cheaper.InputPer1K + cheaper.OutputPer1K) / (current.InputPer1K + current.OutputPer1K)
	return costedTier{name: cheaper.Name, cost: estCost * ratio}, true
}

// untilNextDay returns the duration until the next UTC midnight.
func untilNextDay(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
