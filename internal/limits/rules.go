package limits

import "time"

// Tier names recognized by the default rule set.
const (
	TierFree      = "free"
	TierBeta      = "beta"
	TierVIP       = "vip"
	TierAdmin     = "admin"
	TierUnlimited = "unlimited"
)

const (
	day  = 24 * time.Hour
	hour = time.Hour
)

// DefaultTierRules returns the built-in quota rules per tier. Values are
// deliberately conservative for free users and loose for admins; the
// unlimited tier carries no rules at all.
func DefaultTierRules() map[string][]Rule {
	return map[string][]Rule{
		TierFree: {
			{Type: LimitTokensPerDay, Value: 10_000, EnforcementAction: ActionBlock, ResetPeriod: day, Enabled: true},
			{Type: LimitCostPerDay, Value: 0.50, EnforcementAction: ActionBlock, ResetPeriod: day, Enabled: true},
			{Type: LimitQueriesPerHour, Value: 20, EnforcementAction: ActionThrottle, ResetPeriod: hour, Enabled: true},
			{Type: LimitConcurrent, Value: 2, EnforcementAction: ActionQueue, Enabled: true},
		},
		TierBeta: {
			{Type: LimitTokensPerDay, Value: 50_000, EnforcementAction: ActionDowngrade, ResetPeriod: day, Enabled: true},
			{Type: LimitCostPerDay, Value: 2.00, EnforcementAction: ActionDowngrade, ResetPeriod: day, Enabled: true},
			{Type: LimitQueriesPerHour, Value: 60, EnforcementAction: ActionWarn, ResetPeriod: hour, Enabled: true},
			{Type: LimitConcurrent, Value: 4, EnforcementAction: ActionQueue, Enabled: true},
		},
		TierVIP: {
			{Type: LimitTokensPerDay, Value: 200_000, EnforcementAction: ActionWarn, ResetPeriod: day, Enabled: true},
			{Type: LimitCostPerDay, Value: 10.00, EnforcementAction: ActionWarn, ResetPeriod: day, Enabled: true},
			{Type: LimitQueriesPerHour, Value: 240, EnforcementAction: ActionWarn, ResetPeriod: hour, Enabled: true},
			{Type: LimitConcurrent, Value: 8, EnforcementAction: ActionQueue, Enabled: true},
		},
		TierAdmin: {
			{Type: LimitCostPerDay, Value: 50.00, EnforcementAction: ActionWarn, ResetPeriod: day, Enabled: true},
			{Type: LimitConcurrent, Value: 16, EnforcementAction: ActionQueue, Enabled: true},
		},
		TierUnlimited: {},
	}
}
