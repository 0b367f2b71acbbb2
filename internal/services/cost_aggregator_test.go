package services

import (
	"driver-cost-service/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostAggregator_ThreeStopScenario(t *testing.T) {
	seq := NewSequenceBuilder(200).Build(day1, []domain.Stop{
		stopAt("S1", "08:00:00", 0, 0),
		stopAt("S2", "08:30:00", 0, 1),
		stopAt("S3", "09:00:00", 0, 2),
	})
	seq.Stops[1].BranchName = "North"

	agg := NewCostAggregator(2.5)
	var segments []domain.Segment
	for req := range seq.Requests() {
		res := Resolution{
			Key:    domain.NewFingerprintKey(req.Origin, req.Dest),
			Result: domain.DistanceResult{DistanceMeters: 111000, Source: domain.SourceProvider},
		}
		segments = append(segments, agg.Price(req, res))
	}

	require.Len(t, segments, 2)
	for _, s := range segments {
		assert.Equal(t, 277.5, s.Cost)
		assert.Equal(t, 111.0, s.Distance.DistanceKm())
	}

	day := agg.Aggregate(seq, segments)
	assert.Equal(t, "D", day.DriverID)
	assert.Equal(t, "2024-01-01", day.Date)
	assert.Equal(t, "North", day.BranchName)
	assert.Equal(t, 3, day.StopCount)
	assert.Equal(t, 2, day.SegmentCount)
	assert.Equal(t, 222.0, day.TotalDistanceKm)
	assert.Equal(t, 555.0, day.TotalCost)
	assert.Equal(t, 1.0, day.DurationHours)
	assert.Equal(t, 185.0, day.AvgCostPerStop)
	assert.Equal(t, 2.5, day.CostEfficiency)
	assert.Zero(t, day.FallbackSegments)
	assert.True(t, day.IsRouteComplete)

	// Pure function of its inputs.
	assert.Equal(t, day, agg.Aggregate(seq, segments))
}

func TestCostAggregator_CountsFallbackProvenance(t *testing.T) {
	seq := NewSequenceBuilder(200).Build(day1, []domain.Stop{
		stopAt("S1", "08:00:00", 0, 0),
		stopAt("S2", "08:30:00", 0, 1),
		stopAt("S3", "09:00:00", 0, 2),
	})
	segments := []domain.Segment{
		{Distance: domain.DistanceResult{DistanceMeters: 1000, Source: domain.SourceFallback}, Cost: 1},
		{Distance: domain.DistanceResult{DistanceMeters: 1000, Source: domain.SourceCached, OriginalSource: domain.SourceFallback}, Cost: 1},
	}

	day := NewCostAggregator(1).Aggregate(seq, segments)
	assert.Equal(t, 2, day.FallbackSegments)
}

func TestCostAggregator_SingleStop(t *testing.T) {
	seq := NewSequenceBuilder(200).Build(day1, []domain.Stop{stopAt("S1", "08:00:00", 0, 0)})

	day := NewCostAggregator(2.5).Aggregate(seq, nil)
	assert.Equal(t, 1, day.StopCount)
	assert.Zero(t, day.SegmentCount)
	assert.Zero(t, day.TotalCost)
	assert.Zero(t, day.DurationHours)
	assert.False(t, day.IsRouteComplete)
}

func TestSummarizeBranches(t *testing.T) {
	agg := NewCostAggregator(2.5)
	day := func(branch string, stops int, km, cost float64) domain.DriverDayCost {
		seq := Sequence{Day: day1, Stops: make([]domain.Stop, stops)}
		for i := range seq.Stops {
			seq.Stops[i].BranchName = branch
		}
		return agg.Aggregate(seq, []domain.Segment{{
			Distance: domain.DistanceResult{DistanceMeters: km * 1000},
			Cost:     cost,
		}})
	}
	days := []domain.DriverDayCost{
		day("South", 4, 100, 250),
		day("North", 3, 20, 50),
		day("South", 1, 0, 0),
		day("", 2, 0.01, 1),
	}

	got := SummarizeBranches(days)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"", "North", "South"}, []string{got[0].BranchName, got[1].BranchName, got[2].BranchName})

	south := got[2]
	assert.Equal(t, 2, south.DriverDays)
	assert.Equal(t, 5, south.StopCount)
	assert.Equal(t, 100.0, south.TotalDistanceKm)
	assert.Equal(t, 50.0, south.MeanDistanceKm)
	assert.Equal(t, 125.0, south.MeanCost)
	// Per-stop cost and efficiency average the driver-days rather than
	// dividing branch totals: (62.5 + 0) / 2 and (2.5 + 0) / 2.
	assert.InDelta(t, 31.25, south.AvgCostPerStop, 1e-9)
	assert.InDelta(t, 1.25, south.CostEfficiency, 1e-9)

	assert.InDelta(t, 50.0/3, got[1].AvgCostPerStop, 1e-9)
	assert.InDelta(t, 2.5, got[1].CostEfficiency, 1e-9)

	// Distance is floored when computing cost per km.
	assert.InDelta(t, 10.0, got[0].CostEfficiency, 1e-9)
}

func TestCostAggregator_DurationSpansFirstToLastStop(t *testing.T) {
	base := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	seq := Sequence{Day: day1, Stops: []domain.Stop{
		{Timestamp: base},
		{Timestamp: base.Add(90 * time.Minute)},
	}}

	day := NewCostAggregator(1).Aggregate(seq, nil)
	assert.Equal(t, 1.5, day.DurationHours)
}
