package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/allaspects/querygate/internal/pipeline"
)

func TestRecord_CountsBySource(t *testing.T) {
	c := NewCollector()

	c.Record(&pipeline.Answer{Source: pipeline.SourceGenerated, TokensIn: 10, TokensOut: 50, CostUSD: 0.01})
	c.Record(&pipeline.Answer{Source: pipeline.SourceCacheExact, SavedUSD: 0.01})
	c.Record(&pipeline.Answer{Source: pipeline.SourceCacheSimilar, SavedUSD: 0.01})
	c.Record(&pipeline.Answer{Source: pipeline.SourceDedup, SavedUSD: 0.005})
	c.Record(&pipeline.Answer{Source: pipeline.SourceFallback})

	st := c.Stats()
	if st.TotalQueries != 5 {
		t.Errorf("TotalQueries = %d, want 5", st.TotalQueries)
	}
	if st.Generated != 1 {
		t.Errorf("Generated = %d, want 1", st.Generated)
	}
	if st.CacheHits != 2 {
		t.Errorf("CacheHits = %d, want 2", st.CacheHits)
	}
	if st.CacheMisses != 2 {
		t.Errorf("CacheMisses = %d, want 2", st.CacheMisses)
	}
	if st.DedupHits != 1 {
		t.Errorf("DedupHits = %d, want 1", st.DedupHits)
	}
	if st.Fallbacks != 1 {
		t.Errorf("Fallbacks = %d, want 1", st.Fallbacks)
	}
	if st.TokensIn != 10 || st.TokensOut != 50 {
		t.Errorf("tokens = %d/%d, want 10/50", st.TokensIn, st.TokensOut)
	}
	if st.CacheHitRate != 50 {
		t.Errorf("CacheHitRate = %v, want 50", st.CacheHitRate)
	}
}

func TestRecord_AccumulatesCostAndSavings(t *testing.T) {
	c := NewCollector()
	c.Record(&pipeline.Answer{Source: pipeline.SourceGenerated, CostUSD: 0.01})
	c.Record(&pipeline.Answer{Source: pipeline.SourceCacheExact, SavedUSD: 0.03})

	st := c.Stats()
	if st.CostUSD != 0.01 {
		t.Errorf("CostUSD = %v, want 0.01", st.CostUSD)
	}
	if st.SavedUSD != 0.03 {
		t.Errorf("SavedUSD = %v, want 0.03", st.SavedUSD)
	}
	if st.SavingsPercent != 75 {
		t.Errorf("SavingsPercent = %v, want 75", st.SavingsPercent)
	}
}

func TestActiveCounter(t *testing.T) {
	c := NewCollector()
	c.IncrementActive()
	c.IncrementActive()
	c.DecrementActive()
	if got := c.Stats().ActiveQueries; got != 1 {
		t.Errorf("ActiveQueries = %d, want 1", got)
	}
}

func TestRecord_ConcurrentUpdates(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(&pipeline.Answer{Source: pipeline.SourceGenerated, CostUSD: 0.001})
			}
		}()
	}
	wg.Wait()

	st := c.Stats()
	if st.TotalQueries != 5000 {
		t.Errorf("TotalQueries = %d, want 5000", st.TotalQueries)
	}
	if diff := st.CostUSD - 5.0; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("CostUSD = %v, want 5.0", st.CostUSD)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"30s", "30s"},
		{"5m", "5m"},
		{"90m", "1h 30m"},
		{"50h", "2d 2h 0m"},
	}
	for _, tc := range cases {
		d, err := time.ParseDuration(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got := formatDuration(d); got != tc.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
