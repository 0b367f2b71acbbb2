package report

import (
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/obs"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Workbook sheet names, in the order they are written.
const (
	SheetSegments    = "route_segments"
	SheetDaily       = "daily_cost_summary"
	SheetBranches    = "branch_summary"
	SheetConfig      = "config_snapshot"
	SheetDiagnostics = "diagnostics"
)

// ExcelReportWriter writes a run as a single workbook.
type ExcelReportWriter struct {
	Path string
	log  *zap.Logger
}

func NewExcelReportWriter(path string, log *zap.Logger) *ExcelReportWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExcelReportWriter{Path: path, log: log}
}

type sheet struct {
	name   string
	header []any
	rows   [][]any
}

func (w *ExcelReportWriter) WriteReport(ctx context.Context, r *domain.Report) (err error) {
	defer obs.Time(ctx, w.log, "report.excel.Write")(&err)

	if r == nil {
		return errors.New("excel report writer: report is nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	sheets := []sheet{
		segmentSheet(r),
		dailySheet(r),
		branchSheet(r),
		configSheet(r),
		diagnosticSheet(r),
	}

	first := -1
	for _, s := range sheets {
		idx, err := f.NewSheet(s.name)
		if err != nil {
			return fmt.Errorf("write workbook: new sheet %q: %w", s.name, err)
		}
		if first < 0 {
			first = idx
		}
		if err := writeSheet(f, s); err != nil {
			return fmt.Errorf("write workbook: sheet %q: %w", s.name, err)
		}
	}

	f.SetActiveSheet(first)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("write workbook: drop default sheet: %w", err)
	}

	if err := f.SaveAs(w.Path); err != nil {
		return fmt.Errorf("write workbook: save %q: %w", w.Path, err)
	}

	w.log.Info("workbook written", zap.String("path", w.Path), zap.String("run_id", r.RunID))
	return nil
}

func writeSheet(f *excelize.File, s sheet) error {
	sw, err := f.NewStreamWriter(s.name)
	if err != nil {
		return err
	}

	if err := sw.SetRow("A1", s.header); err != nil {
		return err
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func segmentSheet(r *domain.Report) sheet {
	s := sheet{
		name: SheetSegments,
		header: []any{
			"driver_id", "date", "segment_index", "origin_store_id", "dest_store_id",
			"origin_lat", "origin_lng", "dest_lat", "dest_lng",
			"distance_km", "duration_seconds", "source", "original_source", "cost", "anomaly", "attempts",
		},
	}
	for _, seg := range r.Segments {
		var duration any = ""
		if seg.Distance.DurationSeconds != nil {
			duration = *seg.Distance.DurationSeconds
		}
		s.rows = append(s.rows, []any{
			seg.Fingerprint.DriverID, seg.Fingerprint.Date, seg.Index,
			seg.Fingerprint.OriginStoreID, seg.Fingerprint.DestStoreID,
			seg.Origin.Location.Lat, seg.Origin.Location.Lon, seg.Dest.Location.Lat, seg.Dest.Location.Lon,
			seg.Distance.DistanceKm(), duration, string(seg.Distance.Source), string(seg.Distance.Provenance()),
			seg.Cost, seg.Anomaly, seg.Attempts,
		})
	}
	return s
}

func dailySheet(r *domain.Report) sheet {
	s := sheet{
		name: SheetDaily,
		header: []any{
			"driver_id", "date", "branch_name", "stop_count", "segment_count", "total_distance_km",
			"total_cost", "duration_hours", "avg_cost_per_stop", "cost_efficiency", "fallback_segments",
			"is_route_complete",
		},
	}
	for _, d := range r.Daily {
		s.rows = append(s.rows, []any{
			d.DriverID, d.Date, d.BranchName, d.StopCount, d.SegmentCount, d.TotalDistanceKm,
			d.TotalCost, d.DurationHours, d.AvgCostPerStop, d.CostEfficiency, d.FallbackSegments,
			d.IsRouteComplete,
		})
	}
	return s
}

func branchSheet(r *domain.Report) sheet {
	s := sheet{
		name: SheetBranches,
		header: []any{
			"branch_name", "driver_days", "stop_count", "total_distance_km", "mean_distance_km",
			"total_cost", "mean_cost", "avg_cost_per_stop", "cost_efficiency",
		},
	}
	for _, b := range r.Branches {
		s.rows = append(s.rows, []any{
			b.BranchName, b.DriverDays, b.StopCount, b.TotalDistanceKm, b.MeanDistanceKm,
			b.TotalCost, b.MeanCost, b.AvgCostPerStop, b.CostEfficiency,
		})
	}
	return s
}

func configSheet(r *domain.Report) sheet {
	c := r.Config
	return sheet{
		name:   SheetConfig,
		header: []any{"key", "value"},
		rows: [][]any{
			{"run_id", r.RunID},
			{"cost_per_km", c.CostPerKm},
			{"provider_key_version", c.ProviderKeyVersion},
			{"fallback_correction_factor", c.FallbackCorrectionFactor},
			{"fallback_policy", c.FallbackPolicy},
			{"fingerprint_scope", c.FingerprintScope},
			{"run_at", c.RunAt.UTC().Format(time.RFC3339)},
		},
	}
}

func diagnosticSheet(r *domain.Report) sheet {
	s := sheet{
		name:   SheetDiagnostics,
		header: []any{"kind", "driver_id", "date", "fingerprint", "detail", "error"},
	}
	for _, d := range r.Diagnostics {
		s.rows = append(s.rows, []any{string(d.Kind), d.DriverID, d.Date, d.Fingerprint, d.Detail, d.Err})
	}
	return s
}
