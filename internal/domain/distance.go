package domain

import "time"

// Source records where a distance came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceFallback Source = "fallback"
	SourceCached   Source = "cached"
)

// DistanceResult is a resolved road distance for one segment.
//
// DistanceMeters is never negative. When Source is SourceCached,
// OriginalSource carries the provenance of the first resolution so a
// cached fallback stays distinguishable from a cached provider answer.
type DistanceResult struct {
	DistanceMeters  float64
	DurationSeconds *float64
	Source          Source
	OriginalSource  Source
	RunID           string
	ResolvedAt      time.Time
}

// DistanceKm converts the stored meters to kilometers.
func (r DistanceResult) DistanceKm() float64 { return r.DistanceMeters / 1000 }

// Provenance returns the source of the original resolution.
func (r DistanceResult) Provenance() Source {
	if r.Source == SourceCached && r.OriginalSource != "" {
		return r.OriginalSource
	}
	return r.Source
}

// AsCached marks a persisted result as served from the cache.
func (r DistanceResult) AsCached() DistanceResult {
	r.OriginalSource = r.Provenance()
	r.Source = SourceCached
	return r
}
