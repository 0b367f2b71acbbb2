package dto

import (
	"driver-cost-service/internal/adapters/repositories"
	"driver-cost-service/internal/domain"
	"time"
)

type RunRequest struct {
	Stops           []repositories.StopSeed `json:"stops"`
	Persist         bool                    `json:"persist"`
	IncludeSegments bool                    `json:"include_segments"`
}

type SegmentResponse struct {
	DriverID        string   `json:"driver_id"`
	Date            string   `json:"date"`
	Index           int      `json:"segment_index"`
	OriginStoreID   string   `json:"origin_store_id"`
	DestStoreID     string   `json:"dest_store_id"`
	DistanceKm      float64  `json:"distance_km"`
	DurationSeconds *float64 `json:"duration_seconds"`
	Source          string   `json:"source"`
	OriginalSource  string   `json:"original_source"`
	Cost            float64  `json:"cost"`
	Anomaly         bool     `json:"anomaly"`
}

type DailyCostResponse struct {
	DriverID         string  `json:"driver_id"`
	Date             string  `json:"date"`
	BranchName       string  `json:"branch_name"`
	StopCount        int     `json:"stop_count"`
	SegmentCount     int     `json:"segment_count"`
	TotalDistanceKm  float64 `json:"total_distance_km"`
	TotalCost        float64 `json:"total_cost"`
	DurationHours    float64 `json:"duration_hours"`
	AvgCostPerStop   float64 `json:"avg_cost_per_stop"`
	CostEfficiency   float64 `json:"cost_efficiency"`
	FallbackSegments int     `json:"fallback_segments"`
	IsRouteComplete  bool    `json:"is_route_complete"`
}

type BranchResponse struct {
	BranchName      string  `json:"branch_name"`
	DriverDays      int     `json:"driver_days"`
	StopCount       int     `json:"stop_count"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	MeanDistanceKm  float64 `json:"mean_distance_km"`
	TotalCost       float64 `json:"total_cost"`
	MeanCost        float64 `json:"mean_cost"`
	AvgCostPerStop  float64 `json:"avg_cost_per_stop"`
	CostEfficiency  float64 `json:"cost_efficiency"`
}

type DiagnosticResponse struct {
	Kind        string `json:"kind"`
	DriverID    string `json:"driver_id,omitempty"`
	Date        string `json:"date,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Detail      string `json:"detail"`
	Error       string `json:"error,omitempty"`
}

type ConfigResponse struct {
	CostPerKm                float64   `json:"cost_per_km"`
	ProviderKeyVersion       string    `json:"provider_key_version"`
	FallbackCorrectionFactor float64   `json:"fallback_correction_factor"`
	FallbackPolicy           string    `json:"fallback_policy"`
	FingerprintScope         string    `json:"fingerprint_scope"`
	RunAt                    time.Time `json:"run_at"`
}

type RunResponse struct {
	RunID       string               `json:"run_id"`
	Config      ConfigResponse       `json:"config"`
	Daily       []DailyCostResponse  `json:"daily"`
	Branches    []BranchResponse     `json:"branches"`
	Segments    []SegmentResponse    `json:"segments,omitempty"`
	Diagnostics []DiagnosticResponse `json:"diagnostics"`
}

func FromReport(r *domain.Report, withSegments bool) RunResponse {
	res := RunResponse{
		RunID: r.RunID,
		Config: ConfigResponse{
			CostPerKm:                r.Config.CostPerKm,
			ProviderKeyVersion:       r.Config.ProviderKeyVersion,
			FallbackCorrectionFactor: r.Config.FallbackCorrectionFactor,
			FallbackPolicy:           r.Config.FallbackPolicy,
			FingerprintScope:         r.Config.FingerprintScope,
			RunAt:                    r.Config.RunAt,
		},
		Daily:       make([]DailyCostResponse, 0, len(r.Daily)),
		Branches:    make([]BranchResponse, 0, len(r.Branches)),
		Diagnostics: make([]DiagnosticResponse, 0, len(r.Diagnostics)),
	}

	for _, d := range r.Daily {
		res.Daily = append(res.Daily, DailyCostResponse{
			DriverID:         d.DriverID,
			Date:             d.Date,
			BranchName:       d.BranchName,
			StopCount:        d.StopCount,
			SegmentCount:     d.SegmentCount,
			TotalDistanceKm:  d.TotalDistanceKm,
			TotalCost:        d.TotalCost,
			DurationHours:    d.DurationHours,
			AvgCostPerStop:   d.AvgCostPerStop,
			CostEfficiency:   d.CostEfficiency,
			FallbackSegments: d.FallbackSegments,
			IsRouteComplete:  d.IsRouteComplete,
		})
	}
	for _, b := range r.Branches {
		res.Branches = append(res.Branches, BranchResponse(b))
	}
	for _, d := range r.Diagnostics {
		res.Diagnostics = append(res.Diagnostics, DiagnosticResponse{
			Kind:        string(d.Kind),
			DriverID:    d.DriverID,
			Date:        d.Date,
			Fingerprint: d.Fingerprint,
			Detail:      d.Detail,
			Error:       d.Err,
		})
	}

	if withSegments {
		for _, s := range r.Segments {
			res.Segments = append(res.Segments, SegmentResponse{
				DriverID:        s.Fingerprint.DriverID,
				Date:            s.Fingerprint.Date,
				Index:           s.Index,
				OriginStoreID:   s.Fingerprint.OriginStoreID,
				DestStoreID:     s.Fingerprint.DestStoreID,
				DistanceKm:      s.Distance.DistanceKm(),
				DurationSeconds: s.Distance.DurationSeconds,
				Source:          string(s.Distance.Source),
				OriginalSource:  string(s.Distance.Provenance()),
				Cost:            s.Cost,
				Anomaly:         s.Anomaly,
			})
		}
	}

	return res
}
