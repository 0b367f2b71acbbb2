package report

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/db"
	"driver-cost-service/internal/platform/obs"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SQLReportWriter persists a run into the output tables. Rewriting the same
// run id replaces its rows, so a rerun never duplicates output.
type SQLReportWriter struct {
	DB      *sql.DB
	Dialect db.Dialect
	log     *zap.Logger
}

func NewSQLReportWriter(conn *sql.DB, dialect db.Dialect, log *zap.Logger) *SQLReportWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLReportWriter{DB: conn, Dialect: dialect, log: log}
}

var runTables = []string{
	"route_segments",
	"daily_cost_summary",
	"branch_cost_summary",
	"run_diagnostics",
	"config_snapshot",
}

func (w *SQLReportWriter) WriteReport(ctx context.Context, r *domain.Report) (err error) {
	defer obs.Time(ctx, w.log, "report.sql.Write")(&err)

	if w.DB == nil {
		return errors.New("sql report writer: DB is nil")
	}
	if r == nil || r.RunID == "" {
		return errors.New("sql report writer: report has no run id")
	}

	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write report: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range runTables {
		q := w.Dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?;`, table))
		if _, err := tx.ExecContext(ctx, q, r.RunID); err != nil {
			return fmt.Errorf("write report: clear %s: %w", table, err)
		}
	}

	steps := []struct {
		name string
		fn   func(context.Context, *sql.Tx, *domain.Report) error
	}{
		{"config_snapshot", w.writeSnapshot},
		{"route_segments", w.writeSegments},
		{"daily_cost_summary", w.writeDaily},
		{"branch_cost_summary", w.writeBranches},
		{"run_diagnostics", w.writeDiagnostics},
	}
	for _, s := range steps {
		if err := s.fn(ctx, tx, r); err != nil {
			return fmt.Errorf("write report: %s: %w", s.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write report: commit tx: %w", err)
	}

	w.log.Info("report written",
		zap.String("run_id", r.RunID),
		zap.Int("segments", len(r.Segments)),
		zap.Int("driver_days", len(r.Daily)),
		zap.Int("diagnostics", len(r.Diagnostics)),
	)
	return nil
}

func (w *SQLReportWriter) writeSnapshot(ctx context.Context, tx *sql.Tx, r *domain.Report) error {
	c := r.Config
	_, err := tx.ExecContext(ctx, w.Dialect.Rebind(`
	INSERT INTO config_snapshot (
		run_id, cost_per_km, provider_key_version, fallback_correction_factor,
		fallback_policy, fingerprint_scope, run_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?);
	`),
		r.RunID, c.CostPerKm, c.ProviderKeyVersion, c.FallbackCorrectionFactor,
		c.FallbackPolicy, c.FingerprintScope, c.RunAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (w *SQLReportWriter) writeSegments(ctx context.Context, tx *sql.Tx, r *domain.Report) error {
	stmt, err := tx.PrepareContext(ctx, w.Dialect.Rebind(`
	INSERT INTO route_segments (
		run_id, driver_id, stop_date, segment_index, fingerprint,
		origin_store_id, dest_store_id, origin_lat, origin_lng, dest_lat, dest_lng,
		distance_km, duration_seconds, source, original_source, cost, anomaly, attempts
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, s := range r.Segments {
		var duration any
		if s.Distance.DurationSeconds != nil {
			duration = *s.Distance.DurationSeconds
		}
		_, err := stmt.ExecContext(ctx,
			r.RunID, s.Fingerprint.DriverID, s.Fingerprint.Date, s.Index, s.Fingerprint.String(),
			s.Fingerprint.OriginStoreID, s.Fingerprint.DestStoreID,
			s.Origin.Location.Lat, s.Origin.Location.Lon, s.Dest.Location.Lat, s.Dest.Location.Lon,
			s.Distance.DistanceKm(), duration, string(s.Distance.Source), string(s.Distance.Provenance()),
			s.Cost, boolInt(s.Anomaly), s.Attempts,
		)
		if err != nil {
			return fmt.Errorf("insert segment %s #%d: %w", s.Fingerprint, s.Index, err)
		}
	}
	return nil
}

func (w *SQLReportWriter) writeDaily(ctx context.Context, tx *sql.Tx, r *domain.Report) error {
	stmt, err := tx.PrepareContext(ctx, w.Dialect.Rebind(`
	INSERT INTO daily_cost_summary (
		run_id, driver_id, stop_date, branch_name, stop_count, segment_count,
		total_distance_km, total_cost, duration_hours, avg_cost_per_stop,
		cost_efficiency, fallback_segments, is_route_complete
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range r.Daily {
		_, err := stmt.ExecContext(ctx,
			r.RunID, d.DriverID, d.Date, d.BranchName, d.StopCount, d.SegmentCount,
			d.TotalDistanceKm, d.TotalCost, d.DurationHours, d.AvgCostPerStop,
			d.CostEfficiency, d.FallbackSegments, boolInt(d.IsRouteComplete),
		)
		if err != nil {
			return fmt.Errorf("insert driver-day %s@%s: %w", d.DriverID, d.Date, err)
		}
	}
	return nil
}

func (w *SQLReportWriter) writeBranches(ctx context.Context, tx *sql.Tx, r *domain.Report) error {
	stmt, err := tx.PrepareContext(ctx, w.Dialect.Rebind(`
	INSERT INTO branch_cost_summary (
		run_id, branch_name, driver_days, stop_count, total_distance_km, mean_distance_km,
		total_cost, mean_cost, avg_cost_per_stop, cost_efficiency
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range r.Branches {
		_, err := stmt.ExecContext(ctx,
			r.RunID, b.BranchName, b.DriverDays, b.StopCount, b.TotalDistanceKm, b.MeanDistanceKm,
			b.TotalCost, b.MeanCost, b.AvgCostPerStop, b.CostEfficiency,
		)
		if err != nil {
			return fmt.Errorf("insert branch %q: %w", b.BranchName, err)
		}
	}
	return nil
}

func (w *SQLReportWriter) writeDiagnostics(ctx context.Context, tx *sql.Tx, r *domain.Report) error {
	stmt, err := tx.PrepareContext(ctx, w.Dialect.Rebind(`
	INSERT INTO run_diagnostics (run_id, seq, kind, driver_id, stop_date, fingerprint, detail, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, d := range r.Diagnostics {
		_, err := stmt.ExecContext(ctx, r.RunID, i+1, string(d.Kind), d.DriverID, d.Date, d.Fingerprint, d.Detail, d.Err)
		if err != nil {
			return fmt.Errorf("insert diagnostic #%d: %w", i+1, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
