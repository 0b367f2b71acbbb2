package services

import (
	"driver-cost-service/internal/domain"
	"fmt"
	"iter"
	"slices"
)

// SegmentRequest is one adjacent (origin, dest) pair of a driver-day.
type SegmentRequest struct {
	Index          int
	Origin         domain.Stop
	Dest           domain.Stop
	StraightLineKm float64
	Anomaly        bool
}

// Sequence is the deduplicated, time-ordered stop list of one driver-day.
type Sequence struct {
	Day         domain.DriverDay
	Stops       []domain.Stop
	Diagnostics []domain.Diagnostic

	straightKm []float64
	anomalies  []bool
}

// IsRouteComplete is false when fewer than two stops remain.
func (s Sequence) IsRouteComplete() bool { return len(s.Stops) >= 2 }

// SegmentCount is max(0, len(Stops)-1).
func (s Sequence) SegmentCount() int { return max(0, len(s.Stops)-1) }

// Requests lazily yields the adjacent pairs in sequence order.
func (s Sequence) Requests() iter.Seq[SegmentRequest] {
	return func(yield func(SegmentRequest) bool) {
		for i := 1; i < len(s.Stops); i++ {
			req := SegmentRequest{
				Index:          i,
				Origin:         s.Stops[i-1],
				Dest:           s.Stops[i],
				StraightLineKm: s.straightKm[i-1],
				Anomaly:        s.anomalies[i-1],
			}
			if !yield(req) {
				return
			}
		}
	}
}

// SequenceBuilder turns the raw stops of one driver-day into a Sequence.
type SequenceBuilder struct {
	anomalyThresholdKm float64
}

func NewSequenceBuilder(anomalyThresholdKm float64) *SequenceBuilder {
	return &SequenceBuilder{anomalyThresholdKm: anomalyThresholdKm}
}

type dedupKey struct {
	unixNano int64
	lat, lon float64
}

// Build deduplicates stops sharing timestamp and coordinates (the first one
// received wins), sorts the rest by timestamp with arrival order breaking
// ties, and numbers them from 1. stops must be in arrival order and already
// coordinate-validated.
func (b *SequenceBuilder) Build(day domain.DriverDay, stops []domain.Stop) Sequence {
	seq := Sequence{Day: day}

	seen := make(map[dedupKey]int, len(stops))
	kept := make([]domain.Stop, 0, len(stops))
	for i, s := range stops {
		k := dedupKey{unixNano: s.Timestamp.UnixNano(), lat: s.Location.Lat, lon: s.Location.Lon}
		if first, ok := seen[k]; ok {
			seq.Diagnostics = append(seq.Diagnostics, domain.Diagnostic{
				Kind:     domain.DiagDuplicateStop,
				DriverID: day.DriverID,
				Date:     day.Date,
				Detail: fmt.Sprintf("record %d duplicates record %d at %s (%.6f,%.6f)",
					i, first, s.Timestamp.Format("15:04:05"), s.Location.Lat, s.Location.Lon),
			})
			continue
		}
		seen[k] = i
		kept = append(kept, s)
	}

	slices.SortStableFunc(kept, func(a, c domain.Stop) int {
		return a.Timestamp.Compare(c.Timestamp)
	})

	for i := range kept {
		kept[i].SequenceIndex = i + 1
		kept[i].Date = day.Date
	}
	seq.Stops = kept

	if !seq.IsRouteComplete() {
		seq.Diagnostics = append(seq.Diagnostics, domain.Diagnostic{
			Kind:     domain.DiagIncompleteRoute,
			DriverID: day.DriverID,
			Date:     day.Date,
			Detail:   fmt.Sprintf("%d stop(s) after deduplication", len(kept)),
		})
		return seq
	}

	seq.straightKm = make([]float64, len(kept)-1)
	seq.anomalies = make([]bool, len(kept)-1)
	for i := 1; i < len(kept); i++ {
		km := GreatCircleMeters(kept[i-1].Location, kept[i].Location) / 1000
		seq.straightKm[i-1] = km
		if km > b.anomalyThresholdKm {
			seq.anomalies[i-1] = true
			seq.Diagnostics = append(seq.Diagnostics, domain.Diagnostic{
				Kind:        domain.DiagDistanceAnomaly,
				DriverID:    day.DriverID,
				Date:        day.Date,
				Fingerprint: domain.NewFingerprintKey(kept[i-1], kept[i]).String(),
				Detail: fmt.Sprintf("stops %d -> %d are %.1f km apart (threshold %.0f km)",
					i, i+1, km, b.anomalyThresholdKm),
			})
		}
	}

	return seq
}
