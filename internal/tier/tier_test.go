package tier

import (
	"math"
	"testing"
)

func testTiers() map[string]Tier {
	return map[string]Tier{
		"premium":    {Quality: 1.0, InputPer1K: 0.03, OutputPer1K: 0.06, Rank: 0},
		"standard":   {Quality: 0.8, InputPer1K: 0.003, OutputPer1K: 0.006, Rank: 1},
		"economy":    {Quality: 0.6, InputPer1K: 0.0005, OutputPer1K: 0.0015, Rank: 2},
		"free-local": {Quality: 0.3, InputPer1K: 0, OutputPer1K: 0, Rank: 3},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testTiers())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestNewRegistry_Empty(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestTopAndCheapest(t *testing.T) {
	r := newTestRegistry(t)
	if got := r.Top().Name; got != "premium" {
		t.Errorf("Top() = %q, want premium", got)
	}
	if got := r.Cheapest().Name; got != "free-local" {
		t.Errorf("Cheapest() = %q, want free-local", got)
	}
}

func TestDowngrade_WalksTotalOrder(t *testing.T) {
	r := newTestRegistry(t)

	want := []string{"standard", "economy", "free-local"}
	name := "premium"
	for _, expected := range want {
		next, ok := r.Downgrade(name)
		if !ok {
			t.Fatalf("Downgrade(%q) unexpectedly exhausted", name)
		}
		if next.Name != expected {
			t.Fatalf("Downgrade(%q) = %q, want %q", name, next.Name, expected)
		}
		name = next.Name
	}

	// Cheapest tier has nowhere to go.
	if _, ok := r.Downgrade("free-local"); ok {
		t.Error("expected no downgrade below the cheapest tier")
	}
}

func TestDowngrade_UnknownTier(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.Downgrade("nonexistent"); ok {
		t.Error("expected no downgrade for unknown tier")
	}
}

func TestCost_KnownTier(t *testing.T) {
	r := newTestRegistry(t)

	// 1000 in + 1000 out on standard: 0.003 + 0.006.
	got := r.Cost("standard", 1000, 1000)
	if math.Abs(got-0.009) > 1e-9 {
		t.Errorf("Cost(standard, 1000, 1000) = %v, want 0.009", got)
	}
}

func TestCost_FreeTierIsFree(t *testing.T) {
	r := newTestRegistry(t)
	if got := r.Cost("free-local", 5000, 5000); got != 0 {
		t.Errorf("Cost(free-local) = %v, want 0", got)
	}
}

func TestCost_UnknownTierBilledAtMostExpensive(t *testing.T) {
	r := newTestRegistry(t)

	unknown := r.Cost("mystery-model", 1000, 1000)
	premium := r.Cost("premium", 1000, 1000)
	if unknown != premium {
		t.Errorf("unknown tier cost %v, want most-expensive rate %v", unknown, premium)
	}
}

func TestNames_InDowngradeOrder(t *testing.T) {
	r := newTestRegistry(t)
	want := []string{"premium", "standard", "economy", "free-local"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
