// Package limits enforces per-user quotas. Each user tier maps to an
// ordered rule list; when several rules are violated at once, the most
// restrictive enforcement action wins. Counters reset lazily on read, not
// via a background sweep.
package limits

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Action is an enforcement action, ordered from least to most restrictive.
type Action int

const (
	ActionAllow Action = iota
	ActionWarn
	ActionThrottle
	ActionDowngrade
	ActionQueue
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionWarn:
		return "warn"
	case ActionThrottle:
		return "throttle"
	case ActionDowngrade:
		return "downgrade"
	case ActionQueue:
		return "queue"
	case ActionBlock:
		return "block"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// LimitType identifies what a rule measures.
type LimitType string

const (
	LimitTokensPerDay   LimitType = "tokens_per_day"
	LimitCostPerDay     LimitType = "cost_per_day"
	LimitQueriesPerHour LimitType = "queries_per_hour"
	LimitConcurrent     LimitType = "concurrent_requests"
)

// Rule is one quota: exceeding Value triggers EnforcementAction.
// ResetPeriod is zero for the concurrency rule, which has no counter to
// reset.
type Rule struct {
	Type              LimitType
	Value             float64
	EnforcementAction Action
	ResetPeriod       time.Duration
	Enabled           bool
}

// Violation records one exceeded rule inside a Decision.
type Violation struct {
	Type      LimitType
	Limit     float64
	Projected float64
	Action    Action
}

// Decision is the outcome of CheckUsage.
type Decision struct {
	Action     Action
	Tier       string
	Violations []Violation
	Message    string
}

type counter struct {
	value     float64
	lastReset time.Time
}

type userState struct {
	counters   map[LimitType]*counter
	concurrent int
}

// Manager tracks per-user usage against tier rules. Safe for concurrent
// use.
type Manager struct {
	mu        sync.Mutex
	enabled   bool
	tiers     map[string][]Rule
	userTiers map[string]string
	users     map[string]*userState
	overrides map[string]time.Time // userID -> expiry

	now func() time.Time // test hook
}

// DefaultTier is assigned to users with no explicit tier mapping.
const DefaultTier = "free"

// NewManager creates a Manager. userTiers maps user IDs to tier names;
// unknown users fall back to the free tier.
func NewManager(enabled bool, tiers map[string][]Rule, userTiers map[string]string) *Manager {
	if tiers == nil {
		tiers = DefaultTierRules()
	}
	if userTiers == nil {
		userTiers = make(map[string]string)
	}
	return &Manager{
		enabled:   enabled,
		tiers:     tiers,
		userTiers: userTiers,
		users:     make(map[string]*userState),
		overrides: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetUserTier assigns a user to a tier.
func (m *Manager) SetUserTier(userID, tierName string) {
	m.mu.Lock()
	m.userTiers[userID] = tierName
	m.mu.Unlock()
}

// SetOverride grants a user unlimited usage until the given duration
// elapses. Expired overrides are purged lazily on the next check.
func (m *Manager) SetOverride(userID string, d time.Duration) {
	m.mu.Lock()
	m.overrides[userID] = m.now().Add(d)
	m.mu.Unlock()
	log.Info().Str("user_id", userID).Dur("duration", d).Msg("limits: admin override set")
}

// ClearOverride removes a user's override immediately.
func (m *Manager) ClearOverride(userID string) {
	m.mu.Lock()
	delete(m.overrides, userID)
	m.mu.Unlock()
}

// CheckUsage evaluates every enabled rule for the user's tier against the
// projected usage. The most restrictive violated action wins. An active
// admin override short-circuits all checks.
func (m *Manager) CheckUsage(userID string, tokensRequested int, costRequested float64, queriesRequested int) Decision {
	if !m.enabled {
		return Decision{Action: ActionAllow}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	tierName := m.tierForLocked(userID)

	if exp, ok := m.overrides[userID]; ok {
		if now.Before(exp) {
			return Decision{Action: ActionAllow, Tier: tierName, Message: "admin override active"}
		}
		delete(m.overrides, userID)
		log.Debug().Str("user_id", userID).Msg("limits: expired override purged")
	}

	u := m.userLocked(userID)
	d := Decision{Action: ActionAllow, Tier: tierName}
	for _, rule := range m.tiers[tierName] {
		if !rule.Enabled {
			continue
		}
		projected := m.projectedLocked(u, rule, now, tokensRequested, costRequested, queriesRequested)
		if projected <= rule.Value {
			continue
		}
		v := Violation{Type: rule.Type, Limit: rule.Value, Projected: projected, Action: rule.EnforcementAction}
		d.Violations = append(d.Violations, v)
		if v.Action > d.Action {
			d.Action = v.Action
			d.Message = fmt.Sprintf("%s limit exceeded: %.4g of %.4g", rule.Type, projected, rule.Value)
		}
	}
	return d
}

// RecordUsage adds consumed usage to the user's counters.
func (m *Manager) RecordUsage(userID string, tokens int, cost float64, queries int) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	u := m.userLocked(userID)
	for _, rule := range m.tiers[m.tierForLocked(userID)] {
		if !rule.Enabled || rule.Type == LimitConcurrent {
			continue
		}
		c := m.counterLocked(u, rule, now)
		switch rule.Type {
		case LimitTokensPerDay:
			c.value += float64(tokens)
		case LimitCostPerDay:
			c.value += cost
		case LimitQueriesPerHour:
			c.value += float64(queries)
		}
	}
}

// Acquire marks one in-flight request for the user. Callers must pair it
// with Release.
func (m *Manager) Acquire(userID string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.userLocked(userID).concurrent++
	m.mu.Unlock()
}

// Release ends one in-flight request for the user.
func (m *Manager) Release(userID string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	if u := m.users[userID]; u != nil && u.concurrent > 0 {
		u.concurrent--
	}
	m.mu.Unlock()
}

func (m *Manager) tierForLocked(userID string) string {
	if t, ok := m.userTiers[userID]; ok {
		if _, known := m.tiers[t]; known {
			return t
		}
	}
	return DefaultTier
}

func (m *Manager) userLocked(userID string) *userState {
	u, ok := m.users[userID]
	if !ok {
		u = &userState{counters: make(map[LimitType]*counter)}
		m.users[userID] = u
	}
	return u
}

// counterLocked returns the rule's counter, resetting it first when its
// period has elapsed. The reset happens exactly when
// now >= lastReset + period.
func (m *Manager) counterLocked(u *userState, rule Rule, now time.Time) *counter {
	c, ok := u.counters[rule.Type]
	if !ok {
		c = &counter{lastReset: now}
		u.counters[rule.Type] = c
	}
	if rule.ResetPeriod > 0 && !now.Before(c.lastReset.Add(rule.ResetPeriod)) {
		c.value = 0
		c.lastReset = now
	}
	return c
}

func (m *Manager) projectedLocked(u *userState, rule Rule, now time.Time, tokens int, cost float64, queries int) float64 {
	if rule.Type == LimitConcurrent {
		return float64(u.concurrent + 1)
	}
	c := m.counterLocked(u, rule, now)
	switch rule.Type {
	case LimitTokensPerDay:
		return c.value + float64(tokens)
	case LimitCostPerDay:
		return c.value + cost
	case LimitQueriesPerHour:
		return c.value + float64(queries)
	default:
		return c.value
	}
}
