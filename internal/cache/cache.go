// Package cache is the two-tier answer cache: exact lookups by normalized
// query hash, then a similarity scan over same-category entries. A small
// LRU of hot entries sits in front of the full in-memory set, and an
// optional SQLite persister carries entries across restarts.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/allaspects/querygate/internal/store"
)

// Hit types returned by Get.
const (
	HitExact   = "exact"
	HitSimilar = "similar"
)

// Entry is one cached answer.
type Entry struct {
	Key          string
	QueryText    string
	Normalized   string
	Category     string
	Content      string
	Citations    []string
	Tier         string
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	QualityScore float64
	CreatedAt    time.Time
	LastAccess   time.Time
	HitCount     int64
}

// Hit is a successful cache lookup. Exact hits carry confidence 1.0;
// similarity hits carry the similarity score, which is always lower.
type Hit struct {
	Entry      *Entry
	Type       string
	Confidence float64
}

// Persister is the durable side of the cache. *store.Store satisfies it.
type Persister interface {
	PutAnswer(*store.AnswerRow) error
	DeleteAnswer(key string) error
	TouchAnswer(key string, at time.Time) error
	LoadAnswers(now time.Time) ([]*store.AnswerRow, error)
}

// Options configures a Cache.
type Options struct {
	MaxSize             int
	MaxAge              time.Duration
	SimilarityThreshold float64
	HotEntries          int
	StopPhrases         []string
	Synonyms            map[string]string
	Persister           Persister // may be nil (memory-only)
}

// Cache is safe for concurrent use. A single mutex serialises all access;
// the similarity scan runs under it too, which keeps eviction and lookup
// from racing.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	hot     *lru.Cache[string, *Entry]
	norm    *Normalizer

	maxSize   int
	maxAge    time.Duration
	threshold float64
	persist   Persister

	now func() time.Time // test hook
}

// New creates a Cache from the given options.
func New(opts Options) (*Cache, error) {
	if opts.MaxSize < 1 {
		opts.MaxSize = 1
	}
	hotSize := opts.HotEntries
	if hotSize < 1 {
		hotSize = 1
	}
	hot, err := lru.New[string, *Entry](hotSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries:   make(map[string]*Entry),
		hot:       hot,
		norm:      NewNormalizer(opts.StopPhrases, opts.Synonyms),
		maxSize:   opts.MaxSize,
		maxAge:    opts.MaxAge,
		threshold: opts.SimilarityThreshold,
		persist:   opts.Persister,
		now:       time.Now,
	}, nil
}

// Normalizer exposes the cache's normalizer so deduplication uses the same
// canonical form and key derivation.
func (c *Cache) Normalizer() *Normalizer {
	return c.norm
}

// SetSimilarityThreshold replaces the similar-hit cutoff for subsequent
// lookups. The normalization tables are not retunable this way: stored keys
// derive from them, so swapping them would orphan every persisted entry.
func (c *Cache) SetSimilarityThreshold(threshold float64) {
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
}

// Get looks up an answer for the query. Exact match first; when that
// misses, a linear scan of same-category entries scored by similarity.
// Entries past the max-age horizon are treated as absent and purged.
func (c *Cache) Get(query, category string) (*Hit, bool) {
	normalized := c.norm.Normalize(query)
	key := Key(normalized, category)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.lookup(key, now); e != nil {
		c.bump(e, now)
		return &Hit{Entry: e, Type: HitExact, Confidence: 1.0}, true
	}

	var best *Entry
	bestScore := 0.0
	for _, e := range c.entries {
		if e.Category != category || e.Key == key {
			continue
		}
		if c.expired(e, now) {
			continue
		}
		if score := Similarity(normalized, e.Normalized); score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil || bestScore < c.threshold {
		return nil, false
	}
	c.bump(best, now)
	return &Hit{Entry: best, Type: HitSimilar, Confidence: bestScore}, true
}

// PutInput carries everything Put stores about an answer.
type PutInput struct {
	Query        string
	Category     string
	Content      string
	Citations    []string
	Tier         string
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	QualityScore float64
}

// Put stores a new answer keyed by the exact hash of the normalized query.
// It returns the cache key. When the entry count exceeds the size bound, a
// batch of least-recently-accessed entries is evicted in one pass.
func (c *Cache) Put(in PutInput) string {
	normalized := c.norm.Normalize(in.Query)
	key := Key(normalized, in.Category)
	now := c.now()

	e := &Entry{
		Key:          key,
		QueryText:    in.Query,
		Normalized:   normalized,
		Category:     in.Category,
		Content:      in.Content,
		Citations:    in.Citations,
		Tier:         in.Tier,
		TokensIn:     in.TokensIn,
		TokensOut:    in.TokensOut,
		CostUSD:      in.CostUSD,
		QualityScore: in.QualityScore,
		CreatedAt:    now,
		LastAccess:   now,
	}

	c.mu.Lock()
	c.entries[key] = e
	c.hot.Add(key, e)
	c.evictLocked()
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.PutAnswer(c.toRow(e)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: persisting entry")
		}
	}
	return key
}

// Load populates the cache from the persister, skipping rows whose
// timestamps fail to parse. It returns the number of entries loaded.
func (c *Cache) Load() (int, error) {
	if c.persist == nil {
		return 0, nil
	}
	rows, err := c.persist.LoadAnswers(c.now())
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, r := range rows {
		e, err := c.fromRow(r)
		if err != nil {
			log.Warn().Err(err).Str("key", r.Key).Msg("cache: skipping corrupt persisted entry")
			continue
		}
		c.entries[e.Key] = e
		loaded++
	}
	c.evictLocked()
	return loaded, nil
}

// Len returns the number of entries currently held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// lookup returns the live entry for key, purging it if expired.
func (c *Cache) lookup(key string, now time.Time) *Entry {
	e, ok := c.hot.Get(key)
	if !ok {
		e, ok = c.entries[key]
	}
	if !ok {
		return nil
	}
	if c.expired(e, now) {
		c.removeLocked(key)
		return nil
	}
	return e
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return c.maxAge > 0 && now.Sub(e.CreatedAt) > c.maxAge
}

// bump records a hit on an entry.
func (c *Cache) bump(e *Entry, now time.Time) {
	e.HitCount++
	e.LastAccess = now
	c.hot.Add(e.Key, e)
	if c.persist != nil {
		if err := c.persist.TouchAnswer(e.Key, now); err != nil {
			log.Debug().Err(err).Str("key", e.Key).Msg("cache: touching persisted entry")
		}
	}
}

// removeLocked drops an entry from both tiers and the persister.
func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	c.hot.Remove(key)
	if c.persist != nil {
		if err := c.persist.DeleteAnswer(key); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: deleting persisted entry")
		}
	}
}

// evictLocked enforces the size bound. Eviction runs in a batch: once the
// count exceeds maxSize, the oldest-by-last-access entries go until the
// count is back under maxSize minus a slack margin of a tenth, so the next
// few writes do not immediately re-trigger a scan.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.maxSize {
		return
	}
	target := c.maxSize - c.maxSize/10

	byAccess := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		byAccess = append(byAccess, e)
	}
	sort.Slice(byAccess, func(i, j int) bool {
		return byAccess[i].LastAccess.Before(byAccess[j].LastAccess)
	})

	for _, e := range byAccess {
		if len(c.entries) <= target {
			break
		}
		c.removeLocked(e.Key)
	}
}

// toRow converts an Entry to its persisted form.
func (c *Cache) toRow(e *Entry) *store.AnswerRow {
	citations, _ := json.Marshal(e.Citations)
	expires := e.CreatedAt.Add(c.maxAge)
	if c.maxAge <= 0 {
		// No TTL configured: persist with a far-future horizon so the
		// startup prune never drops the row.
		expires = e.CreatedAt.AddDate(100, 0, 0)
	}
	return &store.AnswerRow{
		Key:          e.Key,
		QueryText:    e.QueryText,
		Normalized:   e.Normalized,
		Category:     e.Category,
		Content:      e.Content,
		Citations:    string(citations),
		Tier:         e.Tier,
		TokensIn:     e.TokensIn,
		TokensOut:    e.TokensOut,
		CostUSD:      e.CostUSD,
		QualityScore: e.QualityScore,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    expires.UTC().Format(time.RFC3339),
		HitCount:     e.HitCount,
		LastAccess:   e.LastAccess.UTC().Format(time.RFC3339),
	}
}

// fromRow converts a persisted row back to an Entry.
func (c *Cache) fromRow(r *store.AnswerRow) (*Entry, error) {
	created, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	lastAccess, err := time.Parse(time.RFC3339, r.LastAccess)
	if err != nil {
		return nil, err
	}
	var citations []string
	if r.Citations != "" {
		if err := json.Unmarshal([]byte(r.Citations), &citations); err != nil {
			return nil, err
		}
	}
	return &Entry{
		Key:          r.Key,
		QueryText:    r.QueryText,
		Normalized:   r.Normalized,
		Category:     r.Category,
		Content:      r.Content,
		Citations:    citations,
		Tier:         r.Tier,
		TokensIn:     r.TokensIn,
		TokensOut:    r.TokensOut,
		CostUSD:      r.CostUSD,
		QualityScore: r.QualityScore,
		CreatedAt:    created,
		LastAccess:   lastAccess,
		HitCount:     r.HitCount,
	}, nil
}
