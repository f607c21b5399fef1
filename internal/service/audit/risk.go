package audit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

// RiskConfig tunes the weighted factor sum. Every factor is capped
// individually before summing; the total is capped at 100.
type RiskConfig struct {
	HighImpactWeight int
	SensitiveWeight  int
	AnomalyWeight    int // anomaly score scaled proportionally up to this cap
	NewGeoWeight     int

	// LargeAmountThreshold escalates financial actions: any action carrying
	// an amount at or above it counts as high impact regardless of type.
	LargeAmountThreshold decimal.Decimal
}

// DefaultRiskConfig returns the factor weights
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		HighImpactWeight:     30,
		SensitiveWeight:      25,
		AnomalyWeight:        40,
		NewGeoWeight:         20,
		LargeAmountThreshold: decimal.NewFromInt(5000),
	}
}

// highImpactActions are types whose occurrence alone raises risk: deletes,
// exports, financial transactions, security and configuration changes.
var highImpactActions = map[string]bool{
	"delete":              true,
	"delete_transaction":  true,
	"delete_account":      true,
	"bulk_delete":         true,
	"export":              true,
	"export_data":         true,
	"transaction":         true,
	"transfer":            true,
	"withdrawal":          true,
	"payout":              true,
	"refund":              true,
	"permission_change":   true,
	"role_change":         true,
	"config_change":       true,
	"security_setting":    true,
	"api_key_created":     true,
	"password_change":     true,
}

var highImpactCategories = map[audit.ActionCategory]bool{
	audit.CategorySecurity: true,
	audit.CategoryConfig:   true,
	audit.CategoryExport:   true,
}

// RiskInput is everything the calculator weighs for one event
type RiskInput struct {
	Action       audit.Action
	Tier         audit.PrincipalTier
	IsSensitive  bool
	AnomalyScore int

	// GeoKnown comes from the behavioral analyzer: false when the observed
	// location is not yet reflected in the principal's history.
	GeoKnown bool

	// Amount is the monetary value attached to the action, if any
	Amount *decimal.Decimal
}

// RiskAssessment is the calculator's verdict
type RiskAssessment struct {
	Score          values.RiskScore
	Tier           values.RiskTier
	Factors        []string
	IsSuspicious   bool
	RequiresReview bool
}

// Calculator combines action metadata, sensitivity and the behavioral anomaly
// score into a 0-100 risk score and tier.
type Calculator struct {
	config RiskConfig
}

// NewCalculator creates a risk calculator
func NewCalculator(config RiskConfig) *Calculator {
	if config.HighImpactWeight == 0 && config.SensitiveWeight == 0 {
		config = DefaultRiskConfig()
	}
	return &Calculator{config: config}
}

// Score is monotone non-decreasing in action severity, sensitivity and
// anomaly score individually.
func (c *Calculator) Score(in RiskInput) RiskAssessment {
	assessment := RiskAssessment{}
	total := 0

	if c.isHighImpact(in) {
		total += c.config.HighImpactWeight
		assessment.Factors = append(assessment.Factors, "high_impact_action")
	}

	if weight := in.Tier.Profile().RiskWeight; weight > 0 {
		total += weight
		assessment.Factors = append(assessment.Factors,
			fmt.Sprintf("principal_tier_%s", in.Tier))
	}

	if in.IsSensitive {
		total += c.config.SensitiveWeight
		assessment.Factors = append(assessment.Factors, "sensitive_data")
	}

	if in.AnomalyScore > 0 {
		anomaly := in.AnomalyScore
		if anomaly > 100 {
			anomaly = 100
		}
		contribution := anomaly * c.config.AnomalyWeight / 100
		if contribution > 0 {
			total += contribution
			assessment.Factors = append(assessment.Factors, "behavioral_anomaly")
		}
	}

	if !in.GeoKnown {
		total += c.config.NewGeoWeight
		assessment.Factors = append(assessment.Factors, "unexpected_geolocation")
	}

	assessment.Score = values.NewRiskScoreCapped(total)
	assessment.Tier = assessment.Score.Tier()
	assessment.IsSuspicious = assessment.Score.IsSuspicious()
	assessment.RequiresReview = assessment.Score.Int() >= in.Tier.Profile().ReviewThreshold

	return assessment
}

func (c *Calculator) isHighImpact(in RiskInput) bool {
	if highImpactActions[in.Action.Type] {
		return true
	}
	if highImpactCategories[in.Action.Category] {
		return true
	}
	// Financial actions carrying a large amount escalate to high impact
	if in.Action.Category == audit.CategoryFinancial && in.Amount != nil &&
		in.Amount.GreaterThanOrEqual(c.config.LargeAmountThreshold) {
		return true
	}
	return false
}

// AmountFromMetadata extracts a monetary amount from free-form metadata
func AmountFromMetadata(metadata map[string]interface{}) *decimal.Decimal {
	raw, ok := metadata["amount"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case float64:
		d := decimal.NewFromFloat(v)
		return &d
	case int:
		d := decimal.NewFromInt(int64(v))
		return &d
	case int64:
		d := decimal.NewFromInt(v)
		return &d
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil
		}
		return &d
	default:
		return nil
	}
}
