package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

func berlinGeo() values.GeoPoint {
	g, _ := values.NewGeoPoint(52.52, 13.405, "Berlin, DE")
	return g
}

func sydneyGeo() values.GeoPoint {
	g, _ := values.NewGeoPoint(-33.87, 151.21, "Sydney, AU")
	return g
}

func TestPatternMerge(t *testing.T) {
	pattern := NewPattern("principal-1")

	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	pattern.Merge(Observation{
		At:         at,
		Location:   berlinGeo(),
		Device:     "fp-1",
		ActionType: "view",
	})

	assert.Equal(t, int64(1), pattern.SampleCount)
	assert.Equal(t, int64(1), pattern.HourHistogram[9])
	assert.Equal(t, int64(1), pattern.ActionCounts["view"])
	assert.True(t, pattern.KnowsDevice("fp-1"))
	assert.Len(t, pattern.KnownGeos, 1)
	assert.Equal(t, at, pattern.LastSeenAt)
}

func TestPatternMergeIsAppendOnly(t *testing.T) {
	pattern := NewPattern("principal-1")

	for i := 0; i < 5; i++ {
		pattern.Merge(Observation{
			At:         time.Date(2026, 3, 10, 9, 0, i, 0, time.UTC),
			Location:   berlinGeo(),
			Device:     "fp-1",
			ActionType: "view",
		})
	}

	// Duplicate geo and device are not re-appended, counts still grow
	assert.Len(t, pattern.KnownGeos, 1)
	assert.Len(t, pattern.KnownDevices, 1)
	assert.Equal(t, int64(5), pattern.SampleCount)
	assert.Equal(t, int64(5), pattern.HourHistogram[9])
}

func TestPatternBoundedSets(t *testing.T) {
	pattern := NewPattern("principal-1")

	for i := 0; i < maxKnownDevices+10; i++ {
		pattern.Merge(Observation{
			At:     time.Now().UTC(),
			Device: string(rune('a' + i)),
		})
	}

	assert.Len(t, pattern.KnownDevices, maxKnownDevices)
	// Newest device survives, oldest rotated out
	assert.True(t, pattern.KnowsDevice(string(rune('a'+maxKnownDevices+9))))
	assert.False(t, pattern.KnowsDevice("a"))
}

func TestPatternConfidence(t *testing.T) {
	pattern := NewPattern("principal-1")
	assert.Zero(t, pattern.Confidence())
	assert.False(t, pattern.IsConfident())

	for i := int64(0); i < confidenceSamples; i++ {
		pattern.Merge(Observation{At: time.Now().UTC(), ActionType: "view"})
	}

	assert.Equal(t, 1.0, pattern.Confidence())
	assert.True(t, pattern.IsConfident())
}

func TestPatternGeoDistance(t *testing.T) {
	pattern := NewPattern("principal-1")
	pattern.Merge(Observation{At: time.Now().UTC(), Location: berlinGeo()})

	assert.True(t, pattern.KnowsGeoWithin(berlinGeo(), 50))
	assert.False(t, pattern.KnowsGeoWithin(sydneyGeo(), 50))

	distance := pattern.NearestKnownGeoKm(sydneyGeo())
	assert.InDelta(t, 16000, distance, 1000, "Berlin to Sydney is roughly 16000km")
}

func TestPatternHourDistance(t *testing.T) {
	pattern := NewPattern("principal-1")

	// History concentrated at 09:00 UTC
	for i := 0; i < 20; i++ {
		pattern.Merge(Observation{At: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)})
	}

	mode, count := pattern.ModeHour()
	require.Equal(t, 9, mode)
	require.Equal(t, int64(20), count)

	assert.Equal(t, 0, pattern.HourDistance(9))
	assert.Equal(t, 5, pattern.HourDistance(14))
	// Circular: 23:00 is 10 hours before the 09:00 mode, not 14 after
	assert.Equal(t, 10, pattern.HourDistance(23))
}

func TestPatternActionFrequency(t *testing.T) {
	pattern := NewPattern("principal-1")
	for i := 0; i < 9; i++ {
		pattern.Merge(Observation{At: time.Now().UTC(), ActionType: "view"})
	}
	pattern.Merge(Observation{At: time.Now().UTC(), ActionType: "delete_transaction"})

	assert.InDelta(t, 0.9, pattern.ActionFrequency("view"), 0.001)
	assert.InDelta(t, 0.1, pattern.ActionFrequency("delete_transaction"), 0.001)
	assert.Zero(t, pattern.ActionFrequency("never_seen"))
}
