// Package switcher picks a model tier per request by trading estimated
// answer quality against budget pressure. Scoring is heuristic throughout;
// the keyword lists and thresholds come from configuration.
package switcher

import (
	"strings"
	"sync"

	"github.com/allaspects/querygate/internal/tier"
	"github.com/allaspects/querygate/internal/tokenizer"
)

// Input is everything Recommend needs to know about one request.
type Input struct {
	Query           string
	Category        string
	UserID          string
	ForceTopQuality bool
	// BudgetPercent is current spend as a fraction of the tightest limit.
	BudgetPercent float64
	// Emergency is set when the budget validator has already signaled the
	// emergency threshold for this request.
	Emergency bool
}

// Decision is the outcome of the cost/quality tradeoff. It is not
// persisted, but travels into the usage event's metadata.
type Decision struct {
	ChosenTier         string
	OriginalTier       string
	Complexity         float64
	EstTokens          int
	EstCostUSD         float64
	SavingsUSD         float64
	QualityDelta       float64
	QualityRequirement float64
	Confidence         float64
	Reason             string
}

// Options carries the tunable scoring parameters.
type Options struct {
	BaseLength      int
	HighKeywords    []string
	LowKeywords     []string
	CategoryWeights map[string]float64
}

// Switcher is safe for concurrent use. The scoring parameters may be
// swapped at runtime via Retune; a Recommend in flight finishes with the
// parameters it started with.
type Switcher struct {
	mu           sync.RWMutex
	baseLength   float64
	highKeywords []string
	lowKeywords  []string
	catWeights   map[string]float64

	reg *tier.Registry
	tok *tokenizer.Tokenizer
}

const defaultCategoryWeight = 0.3

// New creates a Switcher.
func New(opts Options, reg *tier.Registry, tok *tokenizer.Tokenizer) *Switcher {
	s := &Switcher{reg: reg, tok: tok}
	s.Retune(opts)
	return s
}

// Retune replaces the scoring parameters. Keyword lists are lowercased on
// the way in, same as at construction.
func (s *Switcher) Retune(opts Options) {
	if opts.BaseLength < 1 {
		opts.BaseLength = 150
	}
	s.mu.Lock()
	s.baseLength = float64(opts.BaseLength)
	s.highKeywords = lowerAll(opts.HighKeywords)
	s.lowKeywords = lowerAll(opts.LowKeywords)
	s.catWeights = opts.CategoryWeights
	s.mu.Unlock()
}

// Recommend scores the query and picks a tier. The original tier is always
// the top of the registry; the switcher only ever moves down from there.
func (s *Switcher) Recommend(in Input) *Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	complexity := s.complexity(in.Query)
	catWeight := s.categoryWeight(in.Category)
	wordCount := len(strings.Fields(in.Query))
	estTokens := s.estimateLength(complexity, catWeight, wordCount)

	// 0.4 complexity + 0.4 category + 0.2 length pressure.
	qualityReq := 0.4*complexity + 0.4*catWeight + 0.2*minF(float64(estTokens)/500, 1)

	top := s.reg.Top()
	chosen, confidence, reason := s.choose(in, complexity, catWeight, qualityReq, top)

	promptTokens := s.tok.CountPrompt(in.Query)
	estCost := s.reg.Cost(chosen.Name, promptTokens, estTokens)
	topCost := s.reg.Cost(top.Name, promptTokens, estTokens)

	return &Decision{
		ChosenTier:         chosen.Name,
		OriginalTier:       top.Name,
		Complexity:         complexity,
		EstTokens:          estTokens,
		EstCostUSD:         estCost,
		SavingsUSD:         topCost - estCost,
		QualityDelta:       top.Quality - chosen.Quality,
		QualityRequirement: qualityReq,
		Confidence:         confidence,
		Reason:             reason,
	}
}

// choose walks the decision ladder.
func (s *Switcher) choose(in Input, complexity, catWeight, qualityReq float64, top tier.Tier) (tier.Tier, float64, string) {
	cheaper, hasCheaper := s.reg.Downgrade(top.Name)
	if !hasCheaper {
		cheaper = top
	}

	switch {
	case in.ForceTopQuality:
		return top, 1.0, "caller forced top quality"
	case in.Emergency:
		return s.reg.Cheapest(), 0.9, "budget emergency, cheapest tier"
	case in.BudgetPercent >= 0.80 && qualityReq < 0.7:
		return cheaper, 0.8, "budget high and quality requirement moderate"
	case complexity < 0.4 && catWeight < 0.5:
		return cheaper, 0.8, "simple query in a lightweight category"
	case qualityReq > 0.8:
		return top, 0.9, "high quality requirement"
	case in.BudgetPercent > 0.60:
		return cheaper, 0.6, "tie-break on elevated budget"
	default:
		return top, 0.6, "tie-break on low budget"
	}
}

// complexity scores the query in [0, 1]. Keyword signals set the base;
// length, sentence count, and stacked question marks adjust it upward.
func (s *Switcher) complexity(query string) float64 {
	lower := strings.ToLower(query)
	words := strings.Fields(lower)

	score := 0.5
	switch {
	case containsAny(lower, s.highKeywords):
		score = 0.8
	case len(words) > 0 && isOneOf(strings.Trim(words[0], "?!.,"), s.lowKeywords):
		score = 0.2
	}

	if len(words) > 15 {
		score += 0.1
	}
	if len(words) > 30 {
		score += 0.1
	}
	if sentenceCount(query) > 1 {
		score += 0.1
	}
	if strings.Count(query, "?") > 1 {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// estimateLength predicts the response length in tokens:
// base * (1 + 2*complexity) * (0.5 + contextWeight) * min(words/10, 2),
// clamped to [50, 1000].
func (s *Switcher) estimateLength(complexity, contextWeight float64, wordCount int) int {
	scale := minF(float64(wordCount)/10, 2)
	est := s.baseLength * (1 + 2*complexity) * (0.5 + contextWeight) * scale
	if est < 50 {
		est = 50
	}
	if est > 1000 {
		est = 1000
	}
	return int(est)
}

func (s *Switcher) categoryWeight(category string) float64 {
	if w, ok := s.catWeights[category]; ok {
		return w
	}
	return defaultCategoryWeight
}

func sentenceCount(q string) int {
	n := 0
	for _, r := range q {
		if r == '.' || r == '!' || r == '?' {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isOneOf(word string, keywords []string) bool {
	for _, k := range keywords {
		if word == k {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
