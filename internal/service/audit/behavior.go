package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// BehaviorConfig tunes the anomaly scoring weights and tolerances
type BehaviorConfig struct {
	// GeoRadiusKm is how far from known locations still counts as known
	GeoRadiusKm float64

	// MaxTravelSpeedKmh bounds plausible travel since the previous record
	MaxTravelSpeedKmh float64

	// HourToleranceHours is the circular distance from the histogram mode
	// beyond which an hour counts as off-pattern
	HourToleranceHours int

	// RareActionFrequency marks an action type rare in the history
	RareActionFrequency float64

	// NeutralScore is returned while the model is below its confidence
	// threshold instead of over-fitting to sparse data
	NeutralScore int

	// UpdateRetries bounds the optimistic read-modify-write loop
	UpdateRetries int

	// Contribution caps, summed then capped at 100
	HourWeight       int
	GeoWeight        int
	TravelWeight     int
	DeviceWeight     int
	RareActionWeight int
}

// DefaultBehaviorConfig returns the scoring defaults
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		GeoRadiusKm:         200,
		MaxTravelSpeedKmh:   900, // commercial flight
		HourToleranceHours:  4,
		RareActionFrequency: 0.05,
		NeutralScore:        10,
		UpdateRetries:       3,
		HourWeight:          25,
		GeoWeight:           20,
		TravelWeight:        15,
		DeviceWeight:        25,
		RareActionWeight:    15,
	}
}

// BehaviorAssessment is the analyzer's verdict for one event
type BehaviorAssessment struct {
	AnomalyScore int
	Confidence   float64
	Factors      []string

	// GeoKnown reports whether the observed location is already reflected in
	// the principal's history; the risk calculator weighs unknown locations.
	GeoKnown bool
}

// Analyzer maintains the rolling per-principal behavioral model and scores
// each event against it before folding the event in.
type Analyzer struct {
	patterns PatternRepository
	config   BehaviorConfig
	logger   *zap.Logger
}

// NewAnalyzer creates a behavioral analyzer
func NewAnalyzer(patterns PatternRepository, config BehaviorConfig, logger *zap.Logger) (*Analyzer, error) {
	if patterns == nil {
		return nil, errors.NewValidationError("MISSING_PATTERN_REPOSITORY",
			"pattern repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{patterns: patterns, config: config, logger: logger}, nil
}

// Observe scores the event against the principal's history, then merges it
// into the pattern. Updates for the same principal are serialized through
// optimistic read-modify-write: on a version conflict the pattern is
// re-read, re-merged and re-written, so no concurrent update is lost and
// cross-principal throughput is never serialized.
func (a *Analyzer) Observe(ctx context.Context, principalID string, obs audit.Observation) (BehaviorAssessment, error) {
	var assessment BehaviorAssessment
	var lastErr error

	for attempt := 0; attempt <= a.config.UpdateRetries; attempt++ {
		pattern, err := a.patterns.Get(ctx, principalID)
		created := false
		if err != nil {
			if !errors.IsType(err, errors.ErrorTypeNotFound) {
				return BehaviorAssessment{}, err
			}
			// Principal's first audited action
			pattern = audit.NewPattern(principalID)
			created = true
		}

		// Score against the pre-merge snapshot
		assessment = a.score(pattern, obs)

		pattern.Merge(obs)
		pattern.LastAnomalyScore = assessment.AnomalyScore

		if created {
			err = a.patterns.Create(ctx, pattern)
		} else {
			err = a.patterns.Update(ctx, pattern)
		}
		if err == nil {
			return assessment, nil
		}
		if !errors.IsType(err, errors.ErrorTypeConflict) {
			return BehaviorAssessment{}, err
		}

		// Version conflict, or a lost create race: re-read and re-merge
		lastErr = err
		a.logger.Debug("pattern write conflict, retrying",
			zap.String("principal_id", principalID),
			zap.Int("attempt", attempt+1))
	}

	return BehaviorAssessment{}, errors.NewConflictError("PATTERN_UPDATE_CONFLICT",
		"behavioral pattern update kept conflicting").WithCause(lastErr)
}

func (a *Analyzer) score(pattern *audit.Pattern, obs audit.Observation) BehaviorAssessment {
	assessment := BehaviorAssessment{
		Confidence: pattern.Confidence(),
		GeoKnown:   a.geoKnown(pattern, obs),
	}

	if !pattern.IsConfident() {
		// Too few samples: neutral low score instead of over-fitting
		assessment.AnomalyScore = a.config.NeutralScore
		return assessment
	}

	score := 0

	if hour := obs.At.UTC().Hour(); pattern.HourDistance(hour) >= a.config.HourToleranceHours {
		score += a.config.HourWeight
		assessment.Factors = append(assessment.Factors, "off_hours_activity")
	}

	if !obs.Location.IsZero() && !pattern.KnowsGeoWithin(obs.Location, a.config.GeoRadiusKm) {
		score += a.config.GeoWeight
		assessment.Factors = append(assessment.Factors, "unknown_geolocation")

		if a.travelImplausible(pattern, obs) {
			score += a.config.TravelWeight
			assessment.Factors = append(assessment.Factors, "implausible_travel")
		}
	}

	if obs.Device != "" && !pattern.KnowsDevice(obs.Device) {
		score += a.config.DeviceWeight
		assessment.Factors = append(assessment.Factors, "new_device")
	}

	if obs.ActionType != "" && pattern.ActionFrequency(obs.ActionType) < a.config.RareActionFrequency {
		score += a.config.RareActionWeight
		assessment.Factors = append(assessment.Factors, "rare_action_type")
	}

	if score > 100 {
		score = 100
	}
	assessment.AnomalyScore = score
	return assessment
}

func (a *Analyzer) geoKnown(pattern *audit.Pattern, obs audit.Observation) bool {
	if obs.Location.IsZero() {
		// No geo signal: nothing to call unexpected
		return true
	}
	return pattern.KnowsGeoWithin(obs.Location, a.config.GeoRadiusKm)
}

// travelImplausible checks whether the principal could have physically moved
// from the previous location since the previous record.
func (a *Analyzer) travelImplausible(pattern *audit.Pattern, obs audit.Observation) bool {
	if pattern.LastGeo.IsZero() || pattern.LastSeenAt.IsZero() {
		return false
	}
	elapsed := obs.At.Sub(pattern.LastSeenAt)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	distanceKm := pattern.LastGeo.DistanceKm(obs.Location)
	speedKmh := distanceKm / elapsed.Hours()
	return speedKmh > a.config.MaxTravelSpeedKmh
}
