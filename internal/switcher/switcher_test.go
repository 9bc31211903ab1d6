package switcher

import (
	"testing"

	"github.com/allaspects/querygate/internal/tier"
	"github.com/allaspects/querygate/internal/tokenizer"
)

func testSwitcher(t *testing.T) *Switcher {
	t.Helper()
	reg, err := tier.NewRegistry(map[string]tier.Tier{
		"premium":    {Quality: 1.0, InputPer1K: 0.03, OutputPer1K: 0.06, Rank: 0},
		"standard":   {Quality: 0.8, InputPer1K: 0.003, OutputPer1K: 0.006, Rank: 1},
		"economy":    {Quality: 0.6, InputPer1K: 0.0005, OutputPer1K: 0.0015, Rank: 2},
		"free-local": {Quality: 0.3, Rank: 3},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return New(Options{
		BaseLength:   150,
		HighKeywords: []string{"detailed", "comprehensive", "philosophical"},
		LowKeywords:  []string{"what", "who", "when", "where"},
		CategoryWeights: map[string]float64{
			"general":    0.3,
			"dharma":     0.7,
			"philosophy": 0.8,
			"practice":   0.5,
		},
	}, reg, tokenizer.New())
}

func TestRecommend_SimpleQueryLowBudgetPicksCheaperTier(t *testing.T) {
	s := testSwitcher(t)

	d := s.Recommend(Input{
		Query:         "What is dharma?",
		Category:      "general",
		BudgetPercent: 0.30,
	})
	if d.ChosenTier == "premium" {
		t.Errorf("ChosenTier = %q, want a cheaper tier for a simple factual query", d.ChosenTier)
	}
	if d.SavingsUSD <= 0 {
		t.Errorf("SavingsUSD = %v, want positive savings against the top tier", d.SavingsUSD)
	}
	if d.Complexity >= 0.4 {
		t.Errorf("Complexity = %v, want < 0.4 for a short factual question", d.Complexity)
	}
}

func TestRecommend_ForceTopQualityWinsOverEverything(t *testing.T) {
	s := testSwitcher(t)

	d := s.Recommend(Input{
		Query:           "What is dharma?",
		Category:        "general",
		ForceTopQuality: true,
		BudgetPercent:   0.90,
	})
	if d.ChosenTier != "premium" {
		t.Errorf("ChosenTier = %q, want premium when forced", d.ChosenTier)
	}
	if d.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", d.Confidence)
	}
}

func TestRecommend_EmergencyPicksCheapestTier(t *testing.T) {
	s := testSwitcher(t)

	d := s.Recommend(Input{
		Query:         "Please give a comprehensive philosophical analysis of dependent origination.",
		Category:      "philosophy",
		Emergency:     true,
		BudgetPercent: 0.96,
	})
	if d.ChosenTier != "free-local" {
		t.Errorf("ChosenTier = %q, want free-local under emergency", d.ChosenTier)
	}
}

func TestRecommend_HighQualityRequirementPicksTopTier(t *testing.T) {
	s := testSwitcher(t)

	d := s.Recommend(Input{
		Query:         "Please give a comprehensive philosophical analysis of dependent origination and its relationship to emptiness in Madhyamaka thought",
		Category:      "philosophy",
		BudgetPercent: 0.20,
	})
	if d.ChosenTier != "premium" {
		t.Errorf("ChosenTier = %q, want premium for a demanding query with budget headroom", d.ChosenTier)
	}
	if d.QualityRequirement <= 0.8 {
		t.Errorf("QualityRequirement = %v, want > 0.8", d.QualityRequirement)
	}
}

func TestRecommend_HighBudgetModerateQualityDowngrades(t *testing.T) {
	s := testSwitcher(t)

	d := s.Recommend(Input{
		Query:         "Explain the story of the Buddha's enlightenment",
		Category:      "general",
		BudgetPercent: 0.85,
	})
	if d.ChosenTier == "premium" {
		t.Errorf("ChosenTier = %q, want a downgrade at 85%% budget with moderate quality needs", d.ChosenTier)
	}
}

func TestRecommend_TieBreakOnBudgetPercent(t *testing.T) {
	s := testSwitcher(t)
	in := Input{
		Query:    "Explain the role of karma in rebirth",
		Category: "dharma",
	}

	in.BudgetPercent = 0.65
	if d := s.Recommend(in); d.ChosenTier == "premium" {
		t.Errorf("ChosenTier = %q, want cheaper at 65%% budget", d.ChosenTier)
	}

	in.BudgetPercent = 0.30
	if d := s.Recommend(in); d.ChosenTier != "premium" {
		t.Errorf("ChosenTier = %q, want premium at 30%% budget", d.ChosenTier)
	}
}

func TestRetune_ReplacesKeywordLists(t *testing.T) {
	s := testSwitcher(t)

	query := "Contrast dependent origination across the early schools"
	if got := s.complexity(query); got != 0.5 {
		t.Fatalf("complexity before retune = %v, want the 0.5 base", got)
	}

	s.Retune(Options{
		BaseLength:      150,
		HighKeywords:    []string{"contrast"},
		LowKeywords:     []string{"what"},
		CategoryWeights: map[string]float64{"general": 0.3},
	})

	if got := s.complexity(query); got < 0.8 {
		t.Errorf("complexity after retune = %v, want >= 0.8 for the new high keyword", got)
	}
	if got := s.complexity("What is dharma?"); got != 0.2 {
		t.Errorf("complexity(low keyword) after retune = %v, want 0.2", got)
	}
}

func TestComplexity_Adjustments(t *testing.T) {
	s := testSwitcher(t)

	simple := s.complexity("What is dharma?")
	if simple != 0.2 {
		t.Errorf("complexity(simple) = %v, want 0.2", simple)
	}

	high := s.complexity("Give me a detailed comparison of Theravada and Mahayana views")
	if high < 0.8 {
		t.Errorf("complexity(high keyword) = %v, want >= 0.8", high)
	}

	// Two questions push the score above the base for its keyword class.
	multi := s.complexity("What is samsara? What ends it?")
	if multi <= simple {
		t.Errorf("complexity(multi question) = %v, want above %v", multi, simple)
	}

	long := s.complexity("Tell me about the gradual training as presented in the early discourses and " +
		"how a lay practitioner today without access to a monastery might realistically adapt each stage " +
		"of it over several years of consistent practice")
	if long <= 0.5 {
		t.Errorf("complexity(long) = %v, want adjusted above the 0.5 base", long)
	}

	if c := s.complexity("x"); c < 0 || c > 1 {
		t.Errorf("complexity out of bounds: %v", c)
	}
}

func TestEstimateLength_Clamped(t *testing.T) {
	s := testSwitcher(t)

	if got := s.estimateLength(0, 0.3, 1); got != 50 {
		t.Errorf("short estimate = %d, want clamped to 50", got)
	}
	if got := s.estimateLength(1.0, 0.8, 100); got != 1000 {
		t.Errorf("long estimate = %d, want clamped to 1000", got)
	}
	mid := s.estimateLength(0.5, 0.3, 10)
	if mid <= 50 || mid >= 1000 {
		t.Errorf("mid estimate = %d, want inside the clamp range", mid)
	}
}
