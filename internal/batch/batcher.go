// Package batch groups concurrent requests for dispatch and collapses
// duplicate queries onto a single generation call. Duplicates are caught at
// two points: a TTL'd dedup window of recently completed results, and an
// in-flight table that attaches late arrivals to a pending request so they
// share its outcome instead of billing a second call.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/allaspects/querygate/internal/tracing"
)

// ErrClosed is returned by Submit after the batcher has been closed.
var ErrClosed = errors.New("batch: batcher closed")

// Request is one caller's pending query awaiting batched dispatch.
// Lower Priority values dispatch first. Tier is the model tier the caller
// settled on; duplicates that coalesce onto this request share it.
type Request struct {
	ID          string
	Query       string
	Category    string
	UserID      string
	Priority    int
	Tier        string
	SubmittedAt time.Time
}

// Result is the outcome of a generation call, shared verbatim with every
// caller that coalesced onto it. Deduplicated is set on the copies handed
// to non-owning callers, whose cost is zero.
type Result struct {
	Content      string
	Citations    []string
	Tier         string
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	QualityScore float64
	Deduplicated bool
}

// DispatchFunc performs the actual generation for a single request.
// Grouping never merges prompts: the batcher calls it once per request.
type DispatchFunc func(ctx context.Context, req *Request) (*Result, error)

// Options configures a Batcher.
type Options struct {
	BatchSize   int
	Timeout     time.Duration
	DedupWindow time.Duration
	DedupSize   int
	KeyFunc     func(query, category string) string
	Dispatch    DispatchFunc
	BaseContext context.Context // defaults to context.Background()
}

type outcome struct {
	res *Result
	err error
}

// pendingReq tracks one enqueued request and everyone waiting on it.
// waiters[0] belongs to the submitting caller; later waiters are duplicate
// submissions that attached while the request was pending or in flight.
type pendingReq struct {
	req      *Request
	key      string
	resolved bool
	waiters  []chan outcome
}

// Batcher is safe for concurrent use.
type Batcher struct {
	mu          sync.Mutex
	pending     []*pendingReq
	inflight    map[string]*pendingReq
	dedup       *expirable.LRU[string, *Result]
	timer       *time.Timer
	dispatching bool
	closed      bool

	batchSize int
	timeout   time.Duration
	keyFn     func(query, category string) string
	dispatch  DispatchFunc
	ctx       context.Context

	now func() time.Time // test hook
}

// New creates a Batcher from the given options.
func New(opts Options) (*Batcher, error) {
	if opts.Dispatch == nil {
		return nil, errors.New("batch: Dispatch is required")
	}
	if opts.KeyFunc == nil {
		return nil, errors.New("batch: KeyFunc is required")
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.DedupSize < 1 {
		opts.DedupSize = 1
	}
	ctx := opts.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	return &Batcher{
		inflight:  make(map[string]*pendingReq),
		dedup:     expirable.NewLRU[string, *Result](opts.DedupSize, nil, opts.DedupWindow),
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		keyFn:     opts.KeyFunc,
		dispatch:  opts.Dispatch,
		ctx:       ctx,
		now:       time.Now,
	}, nil
}

// Submit enqueues a request and blocks until its result is available, the
// context is cancelled, or the batcher is closed. Duplicate queries inside
// the dedup window return the stored result immediately at zero cost.
func (b *Batcher) Submit(ctx context.Context, req *Request) (*Result, error) {
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = b.now()
	}
	key := b.keyFn(req.Query, req.Category)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	// Completed recently: serve from the dedup window.
	if res, ok := b.dedup.Get(key); ok {
		b.mu.Unlock()
		return dedupCopy(res), nil
	}

	ch := make(chan outcome, 1)

	// Identical query already pending or in flight: attach and wait.
	if p, ok := b.inflight[key]; ok && !p.resolved {
		p.waiters = append(p.waiters, ch)
		b.mu.Unlock()
		return b.wait(ctx, ch)
	}

	p := &pendingReq{req: req, key: key, waiters: []chan outcome{ch}}
	b.inflight[key] = p
	b.pending = append(b.pending, p)
	b.evaluateLocked()
	b.mu.Unlock()

	return b.wait(ctx, ch)
}

// Close stops accepting submissions and dispatches whatever is pending
// regardless of age, so no caller is left blocked.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if !b.dispatching && len(b.pending) > 0 {
		b.dispatching = true
		go b.dispatchLoop()
	}
	b.mu.Unlock()
}

// PendingLen returns the number of requests awaiting dispatch.
func (b *Batcher) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) wait(ctx context.Context, ch chan outcome) (*Result, error) {
	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evaluateLocked decides whether to dispatch now or arm the timer. Callers
// must hold b.mu.
func (b *Batcher) evaluateLocked() {
	if b.dispatching || len(b.pending) == 0 {
		return
	}
	oldest := b.oldestLocked()
	if len(b.pending) >= b.batchSize || b.now().Sub(oldest) >= b.timeout {
		b.dispatching = true
		go b.dispatchLoop()
		return
	}

	// Rearm for the oldest request's remaining window rather than a fresh
	// full timeout, so no request waits longer than batchTimeout.
	remaining := b.timeout - b.now().Sub(oldest)
	if b.timer == nil {
		b.timer = time.AfterFunc(remaining, b.onTimer)
	} else {
		b.timer.Stop()
		b.timer.Reset(remaining)
	}
}

func (b *Batcher) onTimer() {
	b.mu.Lock()
	b.evaluateLocked()
	b.mu.Unlock()
}

func (b *Batcher) oldestLocked() time.Time {
	oldest := b.pending[0].req.SubmittedAt
	for _, p := range b.pending[1:] {
		if p.req.SubmittedAt.Before(oldest) {
			oldest = p.req.SubmittedAt
		}
	}
	return oldest
}

// dispatchLoop drains the pending queue batch by batch until it is empty
// or the remaining requests are young enough to keep waiting.
func (b *Batcher) dispatchLoop() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.dispatching = false
			b.mu.Unlock()
			return
		}
		if !b.closed && len(b.pending) < b.batchSize && b.now().Sub(b.oldestLocked()) < b.timeout {
			b.dispatching = false
			b.evaluateLocked()
			b.mu.Unlock()
			return
		}

		sort.SliceStable(b.pending, func(i, j int) bool {
			a, c := b.pending[i], b.pending[j]
			if a.req.Priority != c.req.Priority {
				return a.req.Priority < c.req.Priority
			}
			return a.req.SubmittedAt.Before(c.req.SubmittedAt)
		})

		n := b.batchSize
		if n > len(b.pending) {
			n = len(b.pending)
		}
		batch := make([]*pendingReq, n)
		copy(batch, b.pending[:n])
		b.pending = append(b.pending[:0:0], b.pending[n:]...)
		b.mu.Unlock()

		b.runBatch(batch)
	}
}

// runBatch groups a drained batch by category for locality and runs each
// request through the dispatcher. One failure never touches its siblings.
func (b *Batcher) runBatch(batch []*pendingReq) {
	ctx, span := tracing.StartDispatchSpan(b.ctx, len(batch))
	defer span.End()

	byCategory := make(map[string][]*pendingReq)
	var order []string
	for _, p := range batch {
		if _, ok := byCategory[p.req.Category]; !ok {
			order = append(order, p.req.Category)
		}
		byCategory[p.req.Category] = append(byCategory[p.req.Category], p)
	}

	for _, cat := range order {
		for _, p := range byCategory[cat] {
			b.runOne(ctx, p)
		}
	}
}

func (b *Batcher) runOne(ctx context.Context, p *pendingReq) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("request_id", p.req.ID).Interface("panic", r).
				Msg("batch: dispatcher panicked")
			b.resolve(p, nil, fmt.Errorf("batch: dispatcher panic: %v", r))
		}
	}()
	res, err := b.dispatch(ctx, p.req)
	b.resolve(p, res, err)
}

// resolve completes a request exactly once, seeds the dedup window on
// success, and hands the result to every attached waiter. The first waiter
// receives the original result; later waiters get dedup-marked copies at
// zero cost.
func (b *Batcher) resolve(p *pendingReq, res *Result, err error) {
	b.mu.Lock()
	if p.resolved {
		b.mu.Unlock()
		return
	}
	p.resolved = true
	delete(b.inflight, p.key)
	if err == nil && res != nil {
		b.dedup.Add(p.key, res)
	}
	waiters := p.waiters
	b.mu.Unlock()

	for i, ch := range waiters {
		o := outcome{res: res, err: err}
		if i > 0 && err == nil && res != nil {
			o.res = dedupCopy(res)
		}
		ch <- o
	}
}

// dedupCopy returns a caller-facing copy of a shared result, marked as
// deduplicated and costing nothing.
func dedupCopy(res *Result) *Result {
	cp := *res
	cp.Deduplicated = true
	cp.CostUSD = 0
	return &cp
}
