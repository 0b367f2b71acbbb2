package domain

import "time"

// Represents the travel leg between two consecutive stops of one driver-day.
// A Segment is owned by the aggregation step that produced it and is not
// mutated afterwards.
type Segment struct {
	Fingerprint FingerprintKey
	Index       int
	Origin      Stop
	Dest        Stop
	Distance    DistanceResult
	Cost        float64
	Anomaly     bool
	Attempts    int
}

// Represents the priced route of one driver on one date.
// StopCount includes the final stop, which starts no segment, and a lone
// stop that forms no route at all (IsRouteComplete is false below two stops).
type DriverDayCost struct {
	DriverID         string
	Date             string
	BranchName       string
	StopCount        int
	SegmentCount     int
	TotalDistanceKm  float64
	TotalCost        float64
	DurationHours    float64
	AvgCostPerStop   float64
	// CostEfficiency is cost per km with distance floored at 0.1 km.
	CostEfficiency   float64
	FallbackSegments int
	IsRouteComplete  bool
}

// Represents the rollup of all driver-days attributed to one branch.
type BranchSummary struct {
	BranchName      string
	DriverDays      int
	StopCount       int
	TotalDistanceKm float64
	MeanDistanceKm  float64
	TotalCost       float64
	MeanCost        float64
	AvgCostPerStop  float64
	CostEfficiency  float64
}

// Records the parameters a batch was priced with.
type ConfigSnapshot struct {
	RunID                    string
	CostPerKm                float64
	ProviderKeyVersion       string
	FallbackCorrectionFactor float64
	FallbackPolicy           string
	FingerprintScope         string
	RunAt                    time.Time
}

// Report is the complete output of one batch run.
type Report struct {
	RunID       string
	Config      ConfigSnapshot
	Segments    []Segment
	Daily       []DriverDayCost
	Branches    []BranchSummary
	Diagnostics []Diagnostic
}

// DiagnosticsOf returns the diagnostics of the given kind.
func (r *Report) DiagnosticsOf(kind DiagnosticKind) []Diagnostic {
	out := make([]Diagnostic, 0)
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
