package audit

import (
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// PrincipalTier classifies the actor behind an audited action. A single
// parameterized pipeline handles all tiers; the tier only contributes
// configuration, never a separate code path.
type PrincipalTier string

const (
	TierAdmin      PrincipalTier = "admin"
	TierTrader     PrincipalTier = "trader"
	TierInfluencer PrincipalTier = "influencer"
)

// TierProfile carries the per-tier knobs of the audit pipeline
type TierProfile struct {
	// RetentionDays is the fallback retention window when no explicit
	// (module, tier) policy entry exists.
	RetentionDays int

	// RiskWeight is added to the risk score for every action by this tier.
	// Traders get the narrowest tolerance.
	RiskWeight int

	// ReviewThreshold is the score at or above which a record requires
	// manual review.
	ReviewThreshold int

	// RequiresEncryption forces envelope encryption of sensitive payloads.
	RequiresEncryption bool
}

var tierProfiles = map[PrincipalTier]TierProfile{
	TierAdmin: {
		RetentionDays:      365,
		RiskWeight:         0,
		ReviewThreshold:    50,
		RequiresEncryption: true,
	},
	TierTrader: {
		RetentionDays:      2555, // 7 years, financial records
		RiskWeight:         20,
		ReviewThreshold:    50,
		RequiresEncryption: true,
	},
	TierInfluencer: {
		RetentionDays:      1095,
		RiskWeight:         15,
		ReviewThreshold:    50,
		RequiresEncryption: true,
	},
}

// IsValid reports whether the tier is known
func (t PrincipalTier) IsValid() bool {
	_, ok := tierProfiles[t]
	return ok
}

// Profile returns the configuration for the tier. Unknown tiers fall back to
// the admin profile, which carries the strictest encryption requirement and
// the lowest risk weight.
func (t PrincipalTier) Profile() TierProfile {
	if profile, ok := tierProfiles[t]; ok {
		return profile
	}
	return tierProfiles[TierAdmin]
}

// ParsePrincipalTier validates a raw tier string
func ParsePrincipalTier(raw string) (PrincipalTier, error) {
	tier := PrincipalTier(raw)
	if !tier.IsValid() {
		return "", errors.NewValidationError("INVALID_PRINCIPAL_TIER",
			"principal tier must be admin, trader or influencer")
	}
	return tier, nil
}
