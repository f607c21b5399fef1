package values

import (
	"database/sql/driver"
	"fmt"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// RiskTier buckets a numeric risk score for triage and alerting
type RiskTier string

const (
	RiskTierLow      RiskTier = "low"
	RiskTierMedium   RiskTier = "medium"
	RiskTierHigh     RiskTier = "high"
	RiskTierCritical RiskTier = "critical"
)

// Tier thresholds
const (
	criticalThreshold = 80
	highThreshold     = 60
	mediumThreshold   = 30
)

// String returns the string representation of the tier
func (t RiskTier) String() string {
	return string(t)
}

// IsValid reports whether the tier is a known value
func (t RiskTier) IsValid() bool {
	switch t {
	case RiskTierLow, RiskTierMedium, RiskTierHigh, RiskTierCritical:
		return true
	}
	return false
}

// RiskScore is a 0-100 score derived from action, sensitivity and behavior
type RiskScore struct {
	score int
}

// NewRiskScore creates a validated RiskScore
func NewRiskScore(score int) (RiskScore, error) {
	if score < 0 || score > 100 {
		return RiskScore{}, errors.NewValidationError("INVALID_RISK_SCORE",
			"risk score must be between 0 and 100")
	}
	return RiskScore{score: score}, nil
}

// NewRiskScoreCapped clamps the input into [0, 100]
func NewRiskScoreCapped(score int) RiskScore {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return RiskScore{score: score}
}

// Value returns the numeric score
func (r RiskScore) Int() int {
	return r.score
}

// Tier maps the score onto a risk tier:
// >=80 critical, >=60 high, >=30 medium, else low
func (r RiskScore) Tier() RiskTier {
	switch {
	case r.score >= criticalThreshold:
		return RiskTierCritical
	case r.score >= highThreshold:
		return RiskTierHigh
	case r.score >= mediumThreshold:
		return RiskTierMedium
	default:
		return RiskTierLow
	}
}

// IsSuspicious reports whether the score lands in the high or critical tier
func (r RiskScore) IsSuspicious() bool {
	tier := r.Tier()
	return tier == RiskTierHigh || tier == RiskTierCritical
}

func (r RiskScore) String() string {
	return fmt.Sprintf("%d (%s)", r.score, r.Tier())
}

// Value implements driver.Valuer
func (r RiskScore) Value() (driver.Value, error) {
	return int64(r.score), nil
}

// Scan implements sql.Scanner
func (r *RiskScore) Scan(value interface{}) error {
	switch v := value.(type) {
	case int64:
		parsed, err := NewRiskScore(int(v))
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	case int32:
		return r.Scan(int64(v))
	case nil:
		*r = RiskScore{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into RiskScore", value)
	}
}
