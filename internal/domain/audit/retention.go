package audit

import (
	"time"
)

// RetentionPolicy is the per (module, principal tier) retention table,
// consulted exactly once at record creation to assign ExpiresAt. Policy
// changes only affect records created afterwards: stored expiries are
// immutable.
type RetentionPolicy struct {
	// days[(module, tier)] -> retention in days
	days map[retentionKey]int
}

type retentionKey struct {
	module string
	tier   PrincipalTier
}

// NewRetentionPolicy builds a policy from explicit (module, tier) overrides.
// Lookups fall back to the tier profile default.
func NewRetentionPolicy(overrides map[string]map[PrincipalTier]int) *RetentionPolicy {
	days := make(map[retentionKey]int)
	for module, tiers := range overrides {
		for tier, d := range tiers {
			if d > 0 {
				days[retentionKey{module: module, tier: tier}] = d
			}
		}
	}
	return &RetentionPolicy{days: days}
}

// Days returns the retention window for a (module, tier) pair
func (p *RetentionPolicy) Days(module string, tier PrincipalTier) int {
	if d, ok := p.days[retentionKey{module: module, tier: tier}]; ok {
		return d
	}
	return tier.Profile().RetentionDays
}

// ExpiryFor computes the immutable expiry assigned at write time
func (p *RetentionPolicy) ExpiryFor(module string, tier PrincipalTier, createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, p.Days(module, tier))
}
