// Package tier defines the model tiers QueryGate can route to and their
// token pricing. Tiers form a fixed total order from most capable to the
// free local fallback; downgrades walk that order and never skip past the
// cheapest tier.
package tier

import (
	"fmt"
	"sort"
)

// Tier is a named model/cost configuration.
type Tier struct {
	Name        string
	Quality     float64 // 0..1 relative answer quality
	InputPer1K  float64 // USD per 1000 input tokens
	OutputPer1K float64 // USD per 1000 output tokens
	Rank        int     // 0 = most capable; highest rank = cheapest
}

// Registry holds the configured tiers in downgrade order.
type Registry struct {
	byName  map[string]Tier
	ordered []Tier // sorted by Rank ascending
}

// NewRegistry builds a Registry from the given tiers. Ranks must be unique;
// config validation enforces that before this is called.
func NewRegistry(tiers map[string]Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier: registry requires at least one tier")
	}

	byName := make(map[string]Tier, len(tiers))
	ordered := make([]Tier, 0, len(tiers))
	for name, t := range tiers {
		t.Name = name
		byName[name] = t
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Rank < ordered[j].Rank
	})

	return &Registry{byName: byName, ordered: ordered}, nil
}

// Get returns the tier with the given name.
func (r *Registry) Get(name string) (Tier, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Top returns the most capable tier.
func (r *Registry) Top() Tier {
	return r.ordered[0]
}

// Cheapest returns the least capable (cheapest) tier.
func (r *Registry) Cheapest() Tier {
	return r.ordered[len(r.ordered)-1]
}

// Downgrade returns the next cheaper tier after name. The second return
// value is false when name is already the cheapest tier (or unknown).
func (r *Registry) Downgrade(name string) (Tier, bool) {
	t, ok := r.byName[name]
	if !ok {
		return Tier{}, false
	}
	for i, o := range r.ordered {
		if o.Rank == t.Rank {
			if i+1 < len(r.ordered) {
				return r.ordered[i+1], true
			}
			return Tier{}, false
		}
	}
	return Tier{}, false
}

// Names returns all tier names in downgrade order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, t := range r.ordered {
		names[i] = t.Name
	}
	return names
}

// Cost calculates the cost in USD of a call on the named tier:
// (in/1000)*inputRate + (out/1000)*outputRate. An unknown tier is billed at
// the most expensive known tier's rates so pricing gaps fail toward caution,
// never toward free.
func (r *Registry) Cost(name string, tokensIn, tokensOut int) float64 {
	t, ok := r.byName[name]
	if !ok {
		t = r.mostExpensive()
	}
	return float64(tokensIn)/1000*t.InputPer1K + float64(tokensOut)/1000*t.OutputPer1K
}

// mostExpensive returns the tier with the highest combined per-1K rates.
func (r *Registry) mostExpensive() Tier {
	best := r.ordered[0]
	for _, t := range r.ordered[1:] {
		if t.InputPer1K+t.OutputPer1K > best.InputPer1K+best.OutputPer1K {
			best = t
		}
	}
	return best
}
