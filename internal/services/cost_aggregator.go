package services

import (
	"cmp"
	"driver-cost-service/internal/domain"
	"slices"
)

// CostAggregator prices segments and folds them into driver-day totals.
// It holds no state besides the rate, so re-running it is idempotent.
type CostAggregator struct {
	costPerKm float64
}

func NewCostAggregator(costPerKm float64) CostAggregator {
	return CostAggregator{costPerKm: costPerKm}
}

// SegmentCost is distanceKm * cost_per_km.
func (a CostAggregator) SegmentCost(distanceKm float64) float64 {
	return distanceKm * a.costPerKm
}

// Price builds the immutable Segment for a resolved request.
func (a CostAggregator) Price(req SegmentRequest, res Resolution) domain.Segment {
	return domain.Segment{
		Fingerprint: res.Key,
		Index:       req.Index,
		Origin:      req.Origin,
		Dest:        req.Dest,
		Distance:    res.Result,
		Cost:        a.SegmentCost(res.Result.DistanceKm()),
		Anomaly:     req.Anomaly,
		Attempts:    res.Attempts,
	}
}

// Aggregate folds every resolved segment of seq into its DriverDayCost.
func (a CostAggregator) Aggregate(seq Sequence, segments []domain.Segment) domain.DriverDayCost {
	day := domain.DriverDayCost{
		DriverID:        seq.Day.DriverID,
		Date:            seq.Day.Date,
		StopCount:       len(seq.Stops),
		SegmentCount:    len(segments),
		IsRouteComplete: seq.IsRouteComplete(),
	}

	for _, s := range seq.Stops {
		if s.BranchName != "" {
			day.BranchName = s.BranchName
			break
		}
	}

	for _, seg := range segments {
		day.TotalDistanceKm += seg.Distance.DistanceKm()
		day.TotalCost += seg.Cost
		if seg.Distance.Provenance() == domain.SourceFallback {
			day.FallbackSegments++
		}
	}

	if n := len(seq.Stops); n >= 2 {
		day.DurationHours = seq.Stops[n-1].Timestamp.Sub(seq.Stops[0].Timestamp).Hours()
	}
	day.AvgCostPerStop = day.TotalCost / float64(max(day.StopCount, 1))
	day.CostEfficiency = day.TotalCost / max(day.TotalDistanceKm, minEfficiencyKm)

	return day
}

// minEfficiencyKm keeps cost-per-km finite for driver-days that barely moved.
const minEfficiencyKm = 0.1

// SummarizeBranches rolls driver-days up per branch, ordered by name.
// Totals are summed; AvgCostPerStop and CostEfficiency are the mean of the
// per-day values, so every driver-day weighs the same. Driver-days without a
// branch are grouped under "".
func SummarizeBranches(days []domain.DriverDayCost) []domain.BranchSummary {
	byBranch := make(map[string]*domain.BranchSummary)
	for _, d := range days {
		b, ok := byBranch[d.BranchName]
		if !ok {
			b = &domain.BranchSummary{BranchName: d.BranchName}
			byBranch[d.BranchName] = b
		}
		b.DriverDays++
		b.StopCount += d.StopCount
		b.TotalDistanceKm += d.TotalDistanceKm
		b.TotalCost += d.TotalCost
		b.AvgCostPerStop += d.AvgCostPerStop
		b.CostEfficiency += d.CostEfficiency
	}

	out := make([]domain.BranchSummary, 0, len(byBranch))
	for _, b := range byBranch {
		b.MeanDistanceKm = b.TotalDistanceKm / float64(b.DriverDays)
		b.MeanCost = b.TotalCost / float64(b.DriverDays)
		b.AvgCostPerStop /= float64(b.DriverDays)
		b.CostEfficiency /= float64(b.DriverDays)
		out = append(out, *b)
	}

	slices.SortFunc(out, func(x, y domain.BranchSummary) int { return cmp.Compare(x.BranchName, y.BranchName) })
	return out
}
