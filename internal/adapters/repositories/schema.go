package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// The DDL below is accepted by both SQLite and Postgres. NaN coordinates are
// stored as NULL so invalid ingestion rows survive the round trip.
var schemaStatements = []string{
	`
	CREATE TABLE IF NOT EXISTS stops (
		id TEXT PRIMARY KEY,
		arrival BIGINT NOT NULL,
		driver_id TEXT NOT NULL,
		stop_date TEXT NOT NULL,
		stop_ts TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		store_name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION
	);
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_stops_driver_day
	ON stops(driver_id, stop_date);
	`,
	`
	CREATE TABLE IF NOT EXISTS distance_cache (
		fingerprint TEXT PRIMARY KEY,
		distance_meters DOUBLE PRECISION NOT NULL,
		duration_seconds DOUBLE PRECISION,
		source TEXT NOT NULL,
		run_id TEXT NOT NULL,
		resolved_at TEXT NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS resolution_leases (
		fingerprint TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		expires_at_ms BIGINT NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS route_segments (
		run_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		stop_date TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		origin_store_id TEXT NOT NULL,
		dest_store_id TEXT NOT NULL,
		origin_lat DOUBLE PRECISION NOT NULL,
		origin_lng DOUBLE PRECISION NOT NULL,
		dest_lat DOUBLE PRECISION NOT NULL,
		dest_lng DOUBLE PRECISION NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		duration_seconds DOUBLE PRECISION,
		source TEXT NOT NULL,
		original_source TEXT NOT NULL,
		cost DOUBLE PRECISION NOT NULL,
		anomaly INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		PRIMARY KEY (run_id, driver_id, stop_date, segment_index)
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS daily_cost_summary (
		run_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		stop_date TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		stop_count INTEGER NOT NULL,
		segment_count INTEGER NOT NULL,
		total_distance_km DOUBLE PRECISION NOT NULL,
		total_cost DOUBLE PRECISION NOT NULL,
		duration_hours DOUBLE PRECISION NOT NULL,
		avg_cost_per_stop DOUBLE PRECISION NOT NULL,
		cost_efficiency DOUBLE PRECISION NOT NULL,
		fallback_segments INTEGER NOT NULL,
		is_route_complete INTEGER NOT NULL,
		PRIMARY KEY (run_id, driver_id, stop_date)
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS config_snapshot (
		run_id TEXT PRIMARY KEY,
		cost_per_km DOUBLE PRECISION NOT NULL,
		provider_key_version TEXT NOT NULL,
		fallback_correction_factor DOUBLE PRECISION NOT NULL,
		fallback_policy TEXT NOT NULL,
		fingerprint_scope TEXT NOT NULL,
		run_at TEXT NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS branch_cost_summary (
		run_id TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		driver_days INTEGER NOT NULL,
		stop_count INTEGER NOT NULL,
		total_distance_km DOUBLE PRECISION NOT NULL,
		mean_distance_km DOUBLE PRECISION NOT NULL,
		total_cost DOUBLE PRECISION NOT NULL,
		mean_cost DOUBLE PRECISION NOT NULL,
		avg_cost_per_stop DOUBLE PRECISION NOT NULL,
		cost_efficiency DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, branch_name)
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS run_diagnostics (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		stop_date TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		detail TEXT NOT NULL,
		error TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`,
}

// Initialize the database schema (SQLite or Postgres).
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}
