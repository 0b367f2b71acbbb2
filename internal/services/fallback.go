package services

import (
	"driver-cost-service/internal/domain"
	"time"

	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6371000.0

// GreatCircleMeters returns the haversine distance between a and b.
func GreatCircleMeters(a, b domain.Coordinates) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lon)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return pa.Distance(pb).Radians() * earthRadiusMeters
}

// FallbackEstimator approximates road distance when the provider cannot answer.
type FallbackEstimator struct {
	correction float64
}

// NewFallbackEstimator scales great-circle distances by correction, the
// expected road/straight-line ratio. Non-positive factors fall back to 1.
func NewFallbackEstimator(correction float64) *FallbackEstimator {
	if correction <= 0 {
		correction = 1
	}
	return &FallbackEstimator{correction: correction}
}

func (f *FallbackEstimator) Estimate(origin, dest domain.Coordinates, runID string, at time.Time) domain.DistanceResult {
	return domain.DistanceResult{
		DistanceMeters: GreatCircleMeters(origin, dest) * f.correction,
		Source:         domain.SourceFallback,
		RunID:          runID,
		ResolvedAt:     at,
	}
}
