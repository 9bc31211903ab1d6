package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testKey(query, category string) string {
	return query + "|" + category
}

func echoDispatch(calls *atomic.Int64) DispatchFunc {
	return func(ctx context.Context, req *Request) (*Result, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &Result{Content: "answer to " + req.Query, Tier: "standard", CostUSD: 0.001}, nil
	}
}

func newTestBatcher(t *testing.T, opts Options) *Batcher {
	t.Helper()
	if opts.KeyFunc == nil {
		opts.KeyFunc = testKey
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 5
	}
	if opts.Timeout == 0 {
		opts.Timeout = 50 * time.Millisecond
	}
	if opts.DedupWindow == 0 {
		opts.DedupWindow = time.Minute
	}
	if opts.DedupSize == 0 {
		opts.DedupSize = 64
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestSubmit_SizeTriggerDispatchesFullBatch(t *testing.T) {
	var calls atomic.Int64
	b := newTestBatcher(t, Options{
		BatchSize: 3,
		Timeout:   time.Minute, // only the size trigger can fire
		Dispatch:  echoDispatch(&calls),
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.Submit(context.Background(), &Request{
				ID:    fmt.Sprintf("r%d", i),
				Query: fmt.Sprintf("question %d", i),
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if res.Content == "" {
				t.Error("empty content")
			}
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("dispatch calls = %d, want 3 (one per distinct request)", got)
	}
}

func TestSubmit_TimeoutTriggerDispatchesPartialBatch(t *testing.T) {
	var calls atomic.Int64
	b := newTestBatcher(t, Options{
		BatchSize: 10,
		Timeout:   30 * time.Millisecond,
		Dispatch:  echoDispatch(&calls),
	})

	start := time.Now()
	res, err := b.Submit(context.Background(), &Request{ID: "r1", Query: "lonely question"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res == nil {
		t.Fatal("nil result")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("single request waited %v, want roughly the batch timeout", elapsed)
	}
}

func TestSubmit_ConcurrentDuplicatesBilledOnce(t *testing.T) {
	var calls atomic.Int64
	b := newTestBatcher(t, Options{
		BatchSize: 1,
		Timeout:   time.Minute,
		Dispatch: func(ctx context.Context, req *Request) (*Result, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond) // keep the request in flight
			return &Result{Content: "shared answer", CostUSD: 0.002}, nil
		},
	})

	results := make([]*Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 1 {
				time.Sleep(10 * time.Millisecond) // arrive while the first is in flight
			}
			res, err := b.Submit(context.Background(), &Request{
				ID:       fmt.Sprintf("r%d", i),
				Query:    "What is dharma?",
				Category: "dharma",
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("dispatch calls = %d, want exactly 1 for concurrent duplicates", got)
	}
	if results[0] == nil || results[1] == nil {
		t.Fatal("missing results")
	}
	if results[0].Content != results[1].Content {
		t.Error("duplicate callers received different content")
	}
	dedupCount := 0
	for _, r := range results {
		if r.Deduplicated {
			dedupCount++
			if r.CostUSD != 0 {
				t.Errorf("deduplicated result CostUSD = %v, want 0", r.CostUSD)
			}
		}
	}
	if dedupCount != 1 {
		t.Errorf("deduplicated results = %d, want 1 (only the attached caller)", dedupCount)
	}
}

func TestSubmit_DedupWindowServesCompletedResult(t *testing.T) {
	var calls atomic.Int64
	b := newTestBatcher(t, Options{
		BatchSize: 1,
		Timeout:   time.Minute,
		Dispatch:  echoDispatch(&calls),
	})

	first, err := b.Submit(context.Background(), &Request{ID: "r1", Query: "What is karma?"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := b.Submit(context.Background(), &Request{ID: "r2", Query: "What is karma?"})
	if err != nil {
		t.Fatalf("Submit (duplicate): %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("dispatch calls = %d, want 1", got)
	}
	if !second.Deduplicated || second.CostUSD != 0 {
		t.Errorf("second result = %+v, want deduplicated at zero cost", second)
	}
	if second.Content != first.Content {
		t.Error("dedup window returned different content")
	}
}

func TestSubmit_DedupWindowExpires(t *testing.T) {
	var calls atomic.Int64
	b := newTestBatcher(t, Options{
		BatchSize:   1,
		Timeout:     time.Minute,
		DedupWindow: 20 * time.Millisecond,
		Dispatch:    echoDispatch(&calls),
	})

	if _, err := b.Submit(context.Background(), &Request{ID: "r1", Query: "q"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	res, err := b.Submit(context.Background(), &Request{ID: "r2", Query: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("dispatch calls = %d, want 2 after the window expired", got)
	}
	if res.Deduplicated {
		t.Error("result past the dedup window must not be marked deduplicated")
	}
}

func TestDispatch_OrderedByPriorityThenSubmission(t *testing.T) {
	var mu sync.Mutex
	var order []string
	b := newTestBatcher(t, Options{
		BatchSize: 10,
		Timeout:   100 * time.Millisecond,
		Dispatch: func(ctx context.Context, req *Request) (*Result, error) {
			mu.Lock()
			order = append(order, req.ID)
			mu.Unlock()
			return &Result{Content: "x"}, nil
		},
	})

	var wg sync.WaitGroup
	submit := func(id string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Submit(context.Background(), &Request{ID: id, Query: "query " + id, Priority: priority})
		}()
		time.Sleep(5 * time.Millisecond) // fix submission order
	}
	submit("low", 5)
	submit("high", 1)
	submit("mid", 3)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "mid", "low"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestDispatch_PartialFailureIsolated(t *testing.T) {
	b := newTestBatcher(t, Options{
		BatchSize: 2,
		Timeout:   time.Minute,
		Dispatch: func(ctx context.Context, req *Request) (*Result, error) {
			if req.ID == "bad" {
				return nil, errors.New("model unavailable")
			}
			return &Result{Content: "fine"}, nil
		},
	})

	var wg sync.WaitGroup
	var goodRes *Result
	var goodErr, badErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		goodRes, goodErr = b.Submit(context.Background(), &Request{ID: "good", Query: "q1"})
	}()
	go func() {
		defer wg.Done()
		_, badErr = b.Submit(context.Background(), &Request{ID: "bad", Query: "q2"})
	}()
	wg.Wait()

	if goodErr != nil {
		t.Errorf("sibling request failed alongside the bad one: %v", goodErr)
	}
	if goodRes == nil || goodRes.Content != "fine" {
		t.Errorf("good result = %+v", goodRes)
	}
	if badErr == nil {
		t.Error("expected the failing request to surface its error")
	}
}

func TestDispatch_PanicConvertedToError(t *testing.T) {
	b := newTestBatcher(t, Options{
		BatchSize: 1,
		Timeout:   time.Minute,
		Dispatch: func(ctx context.Context, req *Request) (*Result, error) {
			panic("dispatcher bug")
		},
	})

	_, err := b.Submit(context.Background(), &Request{ID: "r1", Query: "q"})
	if err == nil {
		t.Fatal("expected an error from a panicking dispatcher")
	}
}

func TestSubmit_ContextCancellation(t *testing.T) {
	b := newTestBatcher(t, Options{
		BatchSize: 10,
		Timeout:   time.Minute, // nothing will dispatch
		Dispatch:  echoDispatch(nil),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Submit(ctx, &Request{ID: "r1", Query: "q"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestClose_FlushesPendingAndRejectsNew(t *testing.T) {
	b := newTestBatcher(t, Options{
		BatchSize: 10,
		Timeout:   time.Minute,
		Dispatch:  echoDispatch(nil),
	})

	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), &Request{ID: "r1", Query: "q"})
		done <- err
	}()

	// Give the submission time to land in the queue, then close.
	for i := 0; i < 100 && b.PendingLen() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	b.Close()

	if err := <-done; err != nil {
		t.Errorf("pending request failed on close: %v", err)
	}
	if _, err := b.Submit(context.Background(), &Request{ID: "r2", Query: "q2"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}
