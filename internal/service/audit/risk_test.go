package audit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

func baselineInput() RiskInput {
	return RiskInput{
		Action: audit.Action{
			Category: audit.CategoryData,
			Type:     "view",
			Module:   "support",
		},
		Tier:         audit.TierAdmin,
		IsSensitive:  false,
		AnomalyScore: 0,
		GeoKnown:     true,
	}
}

func TestCalculatorBaseline(t *testing.T) {
	calc := NewCalculator(DefaultRiskConfig())

	assessment := calc.Score(baselineInput())
	assert.Equal(t, 0, assessment.Score.Int())
	assert.Equal(t, values.RiskTierLow, assessment.Tier)
	assert.False(t, assessment.IsSuspicious)
	assert.False(t, assessment.RequiresReview)
	assert.Empty(t, assessment.Factors)
}

func TestCalculatorFactors(t *testing.T) {
	calc := NewCalculator(DefaultRiskConfig())

	t.Run("high impact action", func(t *testing.T) {
		in := baselineInput()
		in.Action.Type = "delete_transaction"
		assessment := calc.Score(in)
		assert.Equal(t, 30, assessment.Score.Int())
		assert.Contains(t, assessment.Factors, "high_impact_action")
	})

	t.Run("trader tier weight", func(t *testing.T) {
		in := baselineInput()
		in.Tier = audit.TierTrader
		assert.Equal(t, 20, calc.Score(in).Score.Int())
	})

	t.Run("influencer tier weight", func(t *testing.T) {
		in := baselineInput()
		in.Tier = audit.TierInfluencer
		assert.Equal(t, 15, calc.Score(in).Score.Int())
	})

	t.Run("sensitive data", func(t *testing.T) {
		in := baselineInput()
		in.IsSensitive = true
		assessment := calc.Score(in)
		assert.Equal(t, 25, assessment.Score.Int())
		assert.Contains(t, assessment.Factors, "sensitive_data")
	})

	t.Run("anomaly scaled to cap", func(t *testing.T) {
		in := baselineInput()
		in.AnomalyScore = 100
		assert.Equal(t, 40, calc.Score(in).Score.Int())

		in.AnomalyScore = 50
		assert.Equal(t, 20, calc.Score(in).Score.Int())
	})

	t.Run("unknown geolocation", func(t *testing.T) {
		in := baselineInput()
		in.GeoKnown = false
		assessment := calc.Score(in)
		assert.Equal(t, 20, assessment.Score.Int())
		assert.Contains(t, assessment.Factors, "unexpected_geolocation")
	})

	t.Run("large financial amount escalates", func(t *testing.T) {
		in := baselineInput()
		in.Action.Category = audit.CategoryFinancial
		in.Action.Type = "adjustment" // not in the high-impact set
		amount := decimal.NewFromInt(10000)
		in.Amount = &amount
		assert.Equal(t, 30, calc.Score(in).Score.Int())

		small := decimal.NewFromInt(10)
		in.Amount = &small
		assert.Equal(t, 0, calc.Score(in).Score.Int())
	})
}

func TestCalculatorTotalCapped(t *testing.T) {
	calc := NewCalculator(DefaultRiskConfig())

	in := baselineInput()
	in.Action.Type = "delete_transaction"
	in.Tier = audit.TierTrader
	in.IsSensitive = true
	in.AnomalyScore = 100
	in.GeoKnown = false

	// 30 + 20 + 25 + 40 + 20 = 135, capped
	assessment := calc.Score(in)
	assert.Equal(t, 100, assessment.Score.Int())
	assert.Equal(t, values.RiskTierCritical, assessment.Tier)
	assert.True(t, assessment.IsSuspicious)
	assert.True(t, assessment.RequiresReview)
}

// Risk score must be monotone non-decreasing in each input, holding the
// others fixed.
func TestCalculatorMonotonicity(t *testing.T) {
	calc := NewCalculator(DefaultRiskConfig())

	t.Run("action severity", func(t *testing.T) {
		low := baselineInput()
		high := low
		high.Action.Type = "delete_transaction"
		assert.GreaterOrEqual(t, calc.Score(high).Score.Int(), calc.Score(low).Score.Int())
	})

	t.Run("sensitivity", func(t *testing.T) {
		plain := baselineInput()
		sensitive := plain
		sensitive.IsSensitive = true
		assert.GreaterOrEqual(t, calc.Score(sensitive).Score.Int(), calc.Score(plain).Score.Int())
	})

	t.Run("anomaly score", func(t *testing.T) {
		previous := -1
		for anomaly := 0; anomaly <= 100; anomaly += 5 {
			in := baselineInput()
			in.AnomalyScore = anomaly
			score := calc.Score(in).Score.Int()
			assert.GreaterOrEqual(t, score, previous, "anomaly %d", anomaly)
			previous = score
		}
	})
}

func TestRequiresReviewThreshold(t *testing.T) {
	calc := NewCalculator(DefaultRiskConfig())

	in := baselineInput()
	in.IsSensitive = true // 25
	assert.False(t, calc.Score(in).RequiresReview)

	in.Tier = audit.TierTrader // 25 + 20 = 45
	assert.False(t, calc.Score(in).RequiresReview)

	in.GeoKnown = false // 45 + 20 = 65
	assert.True(t, calc.Score(in).RequiresReview)
}

func TestAmountFromMetadata(t *testing.T) {
	assert.Nil(t, AmountFromMetadata(nil))
	assert.Nil(t, AmountFromMetadata(map[string]interface{}{"other": 1}))
	assert.Nil(t, AmountFromMetadata(map[string]interface{}{"amount": "not-a-number"}))
	assert.Nil(t, AmountFromMetadata(map[string]interface{}{"amount": true}))

	fromFloat := AmountFromMetadata(map[string]interface{}{"amount": 10000.0})
	assert.True(t, fromFloat.Equal(decimal.NewFromInt(10000)))

	fromString := AmountFromMetadata(map[string]interface{}{"amount": "99.50"})
	assert.True(t, fromString.Equal(decimal.RequireFromString("99.50")))

	fromInt := AmountFromMetadata(map[string]interface{}{"amount": 7})
	assert.True(t, fromInt.Equal(decimal.NewFromInt(7)))
}
