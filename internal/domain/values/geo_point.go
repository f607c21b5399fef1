package values

import (
	"math"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// GeoPoint is a geolocation observed alongside an audited action
type GeoPoint struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label,omitempty"` // e.g. "Berlin, DE"
}

const earthRadiusKm = 6371.0

// NewGeoPoint creates a validated GeoPoint
func NewGeoPoint(lat, lon float64, label string) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, errors.NewValidationError("INVALID_LATITUDE",
			"latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return GeoPoint{}, errors.NewValidationError("INVALID_LONGITUDE",
			"longitude must be between -180 and 180")
	}
	return GeoPoint{Lat: lat, Lon: lon, Label: label}, nil
}

// IsZero reports whether the point carries no coordinates
func (g GeoPoint) IsZero() bool {
	return g.Lat == 0 && g.Lon == 0 && g.Label == ""
}

// DistanceKm returns the great-circle distance to other in kilometers (haversine)
func (g GeoPoint) DistanceKm(other GeoPoint) float64 {
	lat1 := g.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - g.Lat) * math.Pi / 180
	dLon := (other.Lon - g.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
