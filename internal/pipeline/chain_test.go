package pipeline

import (
	"context"
	"errors"
	"testing"
)

// recordingStage appends its name to a shared trace on each call.
type recordingStage struct {
	name    string
	enabled bool
	trace   *[]string

	onQuery  func(q *Query) (*Query, error)
	onAnswer func(a *Answer) (*Answer, error)
}

func (s *recordingStage) Name() string  { return s.name }
func (s *recordingStage) Enabled() bool { return s.enabled }

func (s *recordingStage) ProcessQuery(ctx context.Context, q *Query) (*Query, error) {
	*s.trace = append(*s.trace, s.name+".query")
	if s.onQuery != nil {
		return s.onQuery(q)
	}
	return q, nil
}

func (s *recordingStage) ProcessAnswer(ctx context.Context, q *Query, a *Answer) (*Answer, error) {
	*s.trace = append(*s.trace, s.name+".answer")
	if s.onAnswer != nil {
		return s.onAnswer(a)
	}
	return a, nil
}

func newStage(name string, trace *[]string) *recordingStage {
	return &recordingStage{name: name, enabled: true, trace: trace}
}

func equalTrace(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestChain_QueryOrderAndAnswerReverse(t *testing.T) {
	var trace []string
	c := NewChain(newStage("a", &trace), newStage("b", &trace), newStage("c", &trace))

	q := &Query{ID: "q1", Metadata: map[string]interface{}{}}
	q, ans, err := c.ProcessQuery(context.Background(), q)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if ans != nil {
		t.Fatal("unexpected short-circuit answer")
	}

	if _, err := c.ProcessAnswer(context.Background(), q, &Answer{QueryID: "q1"}); err != nil {
		t.Fatalf("ProcessAnswer: %v", err)
	}

	want := []string{"a.query", "b.query", "c.query", "c.answer", "b.answer", "a.answer"}
	if !equalTrace(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestChain_CacheHitShortCircuits(t *testing.T) {
	var trace []string
	hit := newStage("hit", &trace)
	hit.onQuery = func(q *Query) (*Query, error) {
		q.Flags["cache_hit"] = true
		q.Metadata["cached_answer"] = &Answer{QueryID: q.ID, Content: "cached"}
		return q, nil
	}
	after := newStage("after", &trace)
	c := NewChain(newStage("before", &trace), hit, after)

	q := &Query{ID: "q1", Metadata: map[string]interface{}{}}
	_, ans, err := c.ProcessQuery(context.Background(), q)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if ans == nil || ans.Content != "cached" {
		t.Fatalf("expected the prepared answer, got %+v", ans)
	}
	if !equalTrace(trace, []string{"before.query", "hit.query"}) {
		t.Errorf("later stages ran after the short-circuit: %v", trace)
	}
}

func TestChain_CacheHitWithoutAnswerIsError(t *testing.T) {
	var trace []string
	bad := newStage("bad", &trace)
	bad.onQuery = func(q *Query) (*Query, error) {
		q.Flags["cache_hit"] = true
		return q, nil
	}
	c := NewChain(bad)

	_, _, err := c.ProcessQuery(context.Background(), &Query{Metadata: map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected error for cache_hit without a prepared answer")
	}
}

func TestChain_DisabledStageSkipped(t *testing.T) {
	var trace []string
	off := newStage("off", &trace)
	off.enabled = false
	c := NewChain(newStage("on", &trace), off)

	q := &Query{Metadata: map[string]interface{}{}}
	if _, _, err := c.ProcessQuery(context.Background(), q); err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if !equalTrace(trace, []string{"on.query"}) {
		t.Errorf("trace = %v, want only the enabled stage", trace)
	}
}

func TestChain_StageErrorAborts(t *testing.T) {
	var trace []string
	failing := newStage("failing", &trace)
	failing.onQuery = func(q *Query) (*Query, error) {
		return nil, errors.New("boom")
	}
	c := NewChain(failing, newStage("never", &trace))

	_, _, err := c.ProcessQuery(context.Background(), &Query{Metadata: map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected stage error to abort the chain")
	}
	if !equalTrace(trace, []string{"failing.query"}) {
		t.Errorf("stages after the failure ran: %v", trace)
	}
}

func TestChain_PanicRecoveredAsError(t *testing.T) {
	var trace []string
	panicking := newStage("panicking", &trace)
	panicking.onQuery = func(q *Query) (*Query, error) {
		panic("stage exploded")
	}
	c := NewChain(panicking)

	_, _, err := c.ProcessQuery(context.Background(), &Query{Metadata: map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestChain_NilAnswerWithoutErrorIsError(t *testing.T) {
	var trace []string
	bad := newStage("bad", &trace)
	bad.onAnswer = func(a *Answer) (*Answer, error) { return nil, nil }
	c := NewChain(bad)

	_, err := c.ProcessAnswer(context.Background(), &Query{}, &Answer{})
	if err == nil {
		t.Fatal("expected error for nil answer without error")
	}
}

func TestChain_RecordsTimings(t *testing.T) {
	var trace []string
	c := NewChain(newStage("timed", &trace))

	q := &Query{Metadata: map[string]interface{}{}}
	q, _, err := c.ProcessQuery(context.Background(), q)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if _, err := c.ProcessAnswer(context.Background(), q, &Answer{}); err != nil {
		t.Fatalf("ProcessAnswer: %v", err)
	}

	timings := c.Timings()
	if _, ok := timings["timed"]; !ok {
		t.Error("missing query-phase timing")
	}
	if _, ok := timings["timed.answer"]; !ok {
		t.Error("missing answer-phase timing")
	}
}
