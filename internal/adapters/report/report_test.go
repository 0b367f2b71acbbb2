package report

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/adapters/repositories"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/db"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleReport() *domain.Report {
	a := domain.Stop{DriverID: "D1", Date: "2024-03-01", StoreID: "A", Location: domain.Coordinates{Lat: 31.2, Lon: 121.4}}
	b := domain.Stop{DriverID: "D1", Date: "2024-03-01", StoreID: "B", Location: domain.Coordinates{Lat: 31.3, Lon: 121.5}}
	secs := 900.0

	return &domain.Report{
		RunID: "run-42",
		Config: domain.ConfigSnapshot{
			RunID:                    "run-42",
			CostPerKm:                2.5,
			ProviderKeyVersion:       "v1",
			FallbackCorrectionFactor: 1.3,
			FallbackPolicy:           "permanent",
			FingerprintScope:         "segment",
			RunAt:                    time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		Segments: []domain.Segment{
			{
				Fingerprint: domain.NewFingerprintKey(a, b),
				Index:       1,
				Origin:      a,
				Dest:        b,
				Distance:    domain.DistanceResult{DistanceMeters: 111000, DurationSeconds: &secs, Source: domain.SourceProvider},
				Cost:        277.5,
				Attempts:    1,
			},
			{
				Fingerprint: domain.NewFingerprintKey(b, a),
				Index:       2,
				Origin:      b,
				Dest:        a,
				Distance:    domain.DistanceResult{DistanceMeters: 111000, Source: domain.SourceCached, OriginalSource: domain.SourceFallback},
				Cost:        277.5,
			},
		},
		Daily: []domain.DriverDayCost{{
			DriverID: "D1", Date: "2024-03-01", BranchName: "North", StopCount: 3, SegmentCount: 2,
			TotalDistanceKm: 222, TotalCost: 555, DurationHours: 2, AvgCostPerStop: 185,
			CostEfficiency: 2.5, FallbackSegments: 1, IsRouteComplete: true,
		}},
		Branches: []domain.BranchSummary{{
			BranchName: "North", DriverDays: 1, StopCount: 3, TotalDistanceKm: 222, MeanDistanceKm: 222,
			TotalCost: 555, MeanCost: 555, AvgCostPerStop: 185, CostEfficiency: 2.5,
		}},
		Diagnostics: []domain.Diagnostic{
			{Kind: domain.DiagProviderFallback, DriverID: "D1", Date: "2024-03-01", Fingerprint: "D1|2024-03-01|B|A", Detail: "provider failed", Err: "boom"},
		},
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, repositories.InitSchema(context.Background(), conn))
	return conn
}

func count(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE run_id = 'run-42'").Scan(&n))
	return n
}

func TestSQLReportWriter(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	w := NewSQLReportWriter(conn, db.Sqlite, nil)

	require.NoError(t, w.WriteReport(ctx, sampleReport()))

	assert.Equal(t, 2, count(t, conn, "route_segments"))
	assert.Equal(t, 1, count(t, conn, "daily_cost_summary"))
	assert.Equal(t, 1, count(t, conn, "branch_cost_summary"))
	assert.Equal(t, 1, count(t, conn, "run_diagnostics"))
	assert.Equal(t, 1, count(t, conn, "config_snapshot"))

	var (
		total, efficiency float64
		complete          int
	)
	require.NoError(t, conn.QueryRow(
		`SELECT total_cost, cost_efficiency, is_route_complete FROM daily_cost_summary WHERE run_id = 'run-42' AND driver_id = 'D1'`,
	).Scan(&total, &efficiency, &complete))
	assert.Equal(t, 555.0, total)
	assert.Equal(t, 2.5, efficiency)
	assert.Equal(t, 1, complete)

	var (
		source, original string
		duration         sql.NullFloat64
	)
	require.NoError(t, conn.QueryRow(
		`SELECT source, original_source, duration_seconds FROM route_segments WHERE run_id = 'run-42' AND segment_index = 2`,
	).Scan(&source, &original, &duration))
	assert.Equal(t, "cached", source)
	assert.Equal(t, "fallback", original)
	assert.False(t, duration.Valid)

	var costPerKm float64
	require.NoError(t, conn.QueryRow(`SELECT cost_per_km FROM config_snapshot WHERE run_id = 'run-42'`).Scan(&costPerKm))
	assert.Equal(t, 2.5, costPerKm)
}

func TestSQLReportWriter_RewriteReplacesRun(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	w := NewSQLReportWriter(conn, db.Sqlite, nil)

	require.NoError(t, w.WriteReport(ctx, sampleReport()))
	require.NoError(t, w.WriteReport(ctx, sampleReport()))

	assert.Equal(t, 2, count(t, conn, "route_segments"))
	assert.Equal(t, 1, count(t, conn, "config_snapshot"))
}

func TestSQLReportWriter_RequiresRunID(t *testing.T) {
	w := NewSQLReportWriter(openTestDB(t), db.Sqlite, nil)
	require.Error(t, w.WriteReport(context.Background(), &domain.Report{}))
}

func TestExcelReportWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w := NewExcelReportWriter(path, nil)

	require.NoError(t, w.WriteReport(context.Background(), sampleReport()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t,
		[]string{SheetSegments, SheetDaily, SheetBranches, SheetConfig, SheetDiagnostics},
		f.GetSheetList(),
	)

	rows, err := f.GetRows(SheetSegments)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "driver_id", rows[0][0])
	assert.Equal(t, "D1", rows[1][0])

	rows, err = f.GetRows(SheetDaily)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	total, err := strconv.ParseFloat(rows[1][6], 64)
	require.NoError(t, err)
	assert.Equal(t, 555.0, total)

	rows, err = f.GetRows(SheetConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "run-42"}, rows[1])

	rows, err = f.GetRows(SheetDiagnostics)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "provider_fallback", rows[1][0])
}
