package audit

import (
	"math"
	"time"

	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

const (
	// Bounded rolling sets: oldest entries are evicted, never rewritten
	maxKnownGeos    = 32
	maxKnownDevices = 16

	// Below this many samples the analyzer treats the model as unconfident
	// and returns a neutral anomaly score instead of over-fitting.
	confidenceSamples = 30
)

// Observation is one audited event folded into a principal's pattern
type Observation struct {
	At         time.Time
	Location   values.GeoPoint
	Device     string
	ActionType string
}

// Pattern is the rolling behavioral model of one principal: hour-of-day
// activity histogram, recent geolocations, recent device fingerprints and the
// action-type mix. Created on the first audited action, updated incrementally
// by merge, never deleted while the principal is active.
type Pattern struct {
	PrincipalID string `json:"principal_id"`

	HourHistogram [24]int64         `json:"hour_histogram"`
	KnownGeos     []values.GeoPoint `json:"known_geos,omitempty"`
	KnownDevices  []string          `json:"known_devices,omitempty"`
	ActionCounts  map[string]int64  `json:"action_counts"`

	SampleCount      int64           `json:"sample_count"`
	LastAnomalyScore int             `json:"last_anomaly_score"`
	LastSeenAt       time.Time       `json:"last_seen_at"`
	LastGeo          values.GeoPoint `json:"last_geo"`

	// Version supports optimistic read-modify-write: concurrent sessions for
	// the same principal retry on conflict instead of taking a global lock.
	Version int64 `json:"version"`
}

// NewPattern creates an empty pattern for a principal's first audited action
func NewPattern(principalID string) *Pattern {
	return &Pattern{
		PrincipalID:  principalID,
		ActionCounts: make(map[string]int64),
	}
}

// Merge folds an observation into the pattern. The update is append/merge
// only: histograms grow, bounded sets rotate, nothing is destructively
// rewritten.
func (p *Pattern) Merge(obs Observation) {
	if p.ActionCounts == nil {
		p.ActionCounts = make(map[string]int64)
	}

	hour := obs.At.UTC().Hour()
	p.HourHistogram[hour]++

	if obs.ActionType != "" {
		p.ActionCounts[obs.ActionType]++
	}

	if !obs.Location.IsZero() && !p.knowsExactGeo(obs.Location) {
		p.KnownGeos = append(p.KnownGeos, obs.Location)
		if len(p.KnownGeos) > maxKnownGeos {
			p.KnownGeos = p.KnownGeos[len(p.KnownGeos)-maxKnownGeos:]
		}
	}

	if obs.Device != "" && !p.KnowsDevice(obs.Device) {
		p.KnownDevices = append(p.KnownDevices, obs.Device)
		if len(p.KnownDevices) > maxKnownDevices {
			p.KnownDevices = p.KnownDevices[len(p.KnownDevices)-maxKnownDevices:]
		}
	}

	p.SampleCount++
	if obs.At.After(p.LastSeenAt) {
		p.LastSeenAt = obs.At
		if !obs.Location.IsZero() {
			p.LastGeo = obs.Location
		}
	}
}

// Confidence grows with sample count and saturates at 1.0
func (p *Pattern) Confidence() float64 {
	if p.SampleCount >= confidenceSamples {
		return 1.0
	}
	return float64(p.SampleCount) / float64(confidenceSamples)
}

// IsConfident reports whether the model has enough history to score against
func (p *Pattern) IsConfident() bool {
	return p.SampleCount >= confidenceSamples
}

// KnowsDevice reports whether the fingerprint appears in the rolling device set
func (p *Pattern) KnowsDevice(fingerprint string) bool {
	for _, d := range p.KnownDevices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

func (p *Pattern) knowsExactGeo(g values.GeoPoint) bool {
	for _, known := range p.KnownGeos {
		if known.Lat == g.Lat && known.Lon == g.Lon {
			return true
		}
	}
	return false
}

// NearestKnownGeoKm returns the distance from g to the closest known
// geolocation, or +Inf when no history exists.
func (p *Pattern) NearestKnownGeoKm(g values.GeoPoint) float64 {
	nearest := math.Inf(1)
	for _, known := range p.KnownGeos {
		if d := known.DistanceKm(g); d < nearest {
			nearest = d
		}
	}
	return nearest
}

// KnowsGeoWithin reports whether g lies within radiusKm of any known location
func (p *Pattern) KnowsGeoWithin(g values.GeoPoint, radiusKm float64) bool {
	return p.NearestKnownGeoKm(g) <= radiusKm
}

// Centroid returns the arithmetic center of the known geolocation set
func (p *Pattern) Centroid() (values.GeoPoint, bool) {
	if len(p.KnownGeos) == 0 {
		return values.GeoPoint{}, false
	}
	var lat, lon float64
	for _, g := range p.KnownGeos {
		lat += g.Lat
		lon += g.Lon
	}
	n := float64(len(p.KnownGeos))
	return values.GeoPoint{Lat: lat / n, Lon: lon / n}, true
}

// ModeHour returns the histogram mode and its count
func (p *Pattern) ModeHour() (int, int64) {
	mode, best := 0, int64(0)
	for hour, count := range p.HourHistogram {
		if count > best {
			mode, best = hour, count
		}
	}
	return mode, best
}

// HourDistance returns the circular distance in hours between hour and the
// histogram mode.
func (p *Pattern) HourDistance(hour int) int {
	mode, count := p.ModeHour()
	if count == 0 {
		return 0
	}
	d := hour - mode
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

// ActionFrequency returns the fraction of history made up of actionType
func (p *Pattern) ActionFrequency(actionType string) float64 {
	if p.SampleCount == 0 {
		return 0
	}
	return float64(p.ActionCounts[actionType]) / float64(p.SampleCount)
}
