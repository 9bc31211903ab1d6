package limits

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestManager() *Manager {
	m := NewManager(true, nil, map[string]string{
		"free-user": TierFree,
		"beta-user": TierBeta,
		"vip-user":  TierVIP,
		"root":      TierUnlimited,
	})
	m.now = fixedClock(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	return m
}

func TestCheckUsage_AllowUnderAllLimits(t *testing.T) {
	m := newTestManager()
	d := m.CheckUsage("free-user", 100, 0.01, 1)
	if d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow", d.Action)
	}
	if len(d.Violations) != 0 {
		t.Errorf("Violations = %v, want none", d.Violations)
	}
}

func TestCheckUsage_MostRestrictiveActionWins(t *testing.T) {
	m := newTestManager()

	// Free tier: blowing both the queries/hour (throttle) and cost/day
	// (block) rules must yield block.
	m.RecordUsage("free-user", 0, 0.49, 20)
	d := m.CheckUsage("free-user", 0, 0.02, 1)
	if d.Action != ActionBlock {
		t.Fatalf("Action = %v, want block", d.Action)
	}
	if len(d.Violations) != 2 {
		t.Errorf("Violations = %d, want 2", len(d.Violations))
	}
}

func TestCheckUsage_ProjectedUsageCountsTheRequest(t *testing.T) {
	m := newTestManager()
	m.RecordUsage("free-user", 9_900, 0, 0)

	// 9900 recorded + 200 requested projects past the 10000 token cap.
	d := m.CheckUsage("free-user", 200, 0, 1)
	if d.Action != ActionBlock {
		t.Errorf("Action = %v, want block on projected tokens", d.Action)
	}

	// The same check with a smaller request fits.
	d = m.CheckUsage("free-user", 50, 0, 1)
	if d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow", d.Action)
	}
}

func TestCheckUsage_UnknownUserGetsFreeTier(t *testing.T) {
	m := newTestManager()
	d := m.CheckUsage("stranger", 20_000, 0, 1)
	if d.Tier != TierFree {
		t.Errorf("Tier = %q, want free", d.Tier)
	}
	if d.Action != ActionBlock {
		t.Errorf("Action = %v, want block at free-tier token cap", d.Action)
	}
}

func TestCheckUsage_UnlimitedTierHasNoRules(t *testing.T) {
	m := newTestManager()
	d := m.CheckUsage("root", 10_000_000, 9999, 9999)
	if d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow for unlimited tier", d.Action)
	}
}

func TestCheckUsage_DisabledManagerAllowsEverything(t *testing.T) {
	m := NewManager(false, nil, nil)
	if d := m.CheckUsage("anyone", 1<<30, 1e9, 1<<20); d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow when disabled", d.Action)
	}
}

// ---------------------------------------------------------------------------
// Lazy resets
// ---------------------------------------------------------------------------

func TestCounters_ResetLazilyAfterPeriod(t *testing.T) {
	m := newTestManager()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(base)

	m.RecordUsage("free-user", 0, 0, 20) // at the queries/hour cap
	if d := m.CheckUsage("free-user", 0, 0, 1); d.Action != ActionThrottle {
		t.Fatalf("Action = %v, want throttle at the cap", d.Action)
	}

	// One second before the period elapses: still throttled.
	m.now = fixedClock(base.Add(hour - time.Second))
	if d := m.CheckUsage("free-user", 0, 0, 1); d.Action != ActionThrottle {
		t.Errorf("Action = %v, want throttle just before reset", d.Action)
	}

	// Exactly at lastReset + period: counter resets.
	m.now = fixedClock(base.Add(hour))
	if d := m.CheckUsage("free-user", 0, 0, 1); d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow exactly at the reset boundary", d.Action)
	}
}

func TestCounters_DailyAndHourlyResetIndependently(t *testing.T) {
	m := newTestManager()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(base)

	m.RecordUsage("free-user", 9_999, 0, 20)

	// Two hours later the hourly counter is gone but the daily remains.
	m.now = fixedClock(base.Add(2 * hour))
	if d := m.CheckUsage("free-user", 0, 0, 1); d.Action != ActionAllow {
		t.Errorf("queries action = %v, want allow after hourly reset", d.Action)
	}
	if d := m.CheckUsage("free-user", 500, 0, 0); d.Action != ActionBlock {
		t.Errorf("tokens action = %v, want block before daily reset", d.Action)
	}
}

// ---------------------------------------------------------------------------
// Overrides
// ---------------------------------------------------------------------------

func TestOverride_ShortCircuitsChecksUntilExpiry(t *testing.T) {
	m := newTestManager()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(base)

	m.RecordUsage("free-user", 0, 0.60, 0) // past the cost cap
	if d := m.CheckUsage("free-user", 0, 0.01, 1); d.Action != ActionBlock {
		t.Fatalf("Action = %v, want block before override", d.Action)
	}

	m.SetOverride("free-user", 2*hour)
	if d := m.CheckUsage("free-user", 0, 0.01, 1); d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow under override", d.Action)
	}

	// Past expiry the override is purged lazily and rules apply again.
	m.now = fixedClock(base.Add(3 * hour))
	if d := m.CheckUsage("free-user", 0, 0.01, 1); d.Action != ActionBlock {
		t.Errorf("Action = %v, want block after override expiry", d.Action)
	}
}

func TestClearOverride(t *testing.T) {
	m := newTestManager()
	m.RecordUsage("free-user", 0, 0.60, 0)
	m.SetOverride("free-user", time.Hour)
	m.ClearOverride("free-user")
	if d := m.CheckUsage("free-user", 0, 0.01, 1); d.Action != ActionBlock {
		t.Errorf("Action = %v, want block after override cleared", d.Action)
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrent_QueueWhenSlotsExhausted(t *testing.T) {
	m := newTestManager()

	m.Acquire("free-user")
	m.Acquire("free-user")
	// Two in flight; a third would exceed the free-tier limit of 2.
	if d := m.CheckUsage("free-user", 10, 0.001, 1); d.Action != ActionQueue {
		t.Errorf("Action = %v, want queue with slots exhausted", d.Action)
	}

	m.Release("free-user")
	if d := m.CheckUsage("free-user", 10, 0.001, 1); d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow after a release", d.Action)
	}
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	m := newTestManager()
	m.Release("free-user")
	m.Acquire("free-user")
	m.Release("free-user")
	if d := m.CheckUsage("free-user", 10, 0.001, 1); d.Action != ActionAllow {
		t.Errorf("Action = %v, want allow", d.Action)
	}
}
