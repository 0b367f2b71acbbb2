package repositories

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/db"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StopSeed is the JSON shape of one ingested stop.
type StopSeed struct {
	DriverID   string   `json:"driver_id"`
	Date       string   `json:"date"`
	Timestamp  string   `json:"timestamp"`
	StoreID    string   `json:"store_id"`
	StoreName  string   `json:"store_name"`
	Address    string   `json:"address"`
	BranchName string   `json:"branch_name"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"01-02-06 15:04",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Stop converts the seed. Missing coordinates become NaN and are reported
// downstream as invalid rather than rejected here.
func (s StopSeed) Stop() (domain.Stop, error) {
	driver := strings.TrimSpace(s.DriverID)
	if driver == "" {
		return domain.Stop{}, fmt.Errorf("driver_id cannot be empty")
	}

	ts, err := parseTimestamp(s.Timestamp)
	if err != nil {
		return domain.Stop{}, err
	}

	loc := domain.Coordinates{Lat: math.NaN(), Lon: math.NaN()}
	if s.Lat != nil {
		loc.Lat = *s.Lat
	}
	if s.Lng != nil {
		loc.Lon = *s.Lng
	}

	stop := domain.Stop{
		DriverID:   driver,
		Date:       strings.TrimSpace(s.Date),
		Timestamp:  ts,
		StoreID:    strings.TrimSpace(s.StoreID),
		StoreName:  strings.TrimSpace(s.StoreName),
		Address:    strings.TrimSpace(s.Address),
		BranchName: strings.TrimSpace(s.BranchName),
		Location:   loc,
	}
	stop.Date = stop.Day()
	return stop, nil
}

// LoadStopsJSON reads a JSON array of stops, preserving file order.
func LoadStopsJSON(jsonPath string) ([]domain.Stop, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("load stops: read %q: %w", jsonPath, err)
	}

	var data []StopSeed
	if err := json.Unmarshal(bytes, &data); err != nil {
		return nil, fmt.Errorf("load stops: parse json: %w", err)
	}

	stops := make([]domain.Stop, 0, len(data))
	for i, item := range data {
		stop, err := item.Stop()
		if err != nil {
			return nil, fmt.Errorf("load stops: item at index %d: %w", i+1, err)
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

// JSONStopSource serves stops straight from a seed file.
type JSONStopSource struct{ Path string }

func (s JSONStopSource) ListStops(ctx context.Context) ([]domain.Stop, error) {
	return LoadStopsJSON(s.Path)
}

// Populate the stops table from a JSON seed file.
func SeedFromJSON(ctx context.Context, conn *sql.DB, dialect db.Dialect, jsonPath string) error {
	stops, err := LoadStopsJSON(jsonPath)
	if err != nil {
		return fmt.Errorf("seed stops: %w", err)
	}
	return InsertStops(ctx, conn, dialect, stops)
}

// InsertStops appends stops after the ones already stored, keeping arrival order.
func InsertStops(ctx context.Context, conn *sql.DB, dialect db.Dialect, stops []domain.Stop) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed stops: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var base int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(arrival), 0) FROM stops;`).Scan(&base); err != nil {
		return fmt.Errorf("seed stops: read arrival: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, dialect.Rebind(`
	INSERT INTO stops (
		id, arrival, driver_id, stop_date, stop_ts,
		store_id, store_name, address, branch_name, lat, lng
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`))
	if err != nil {
		return fmt.Errorf("seed stops: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range stops {
		_, err := stmt.ExecContext(ctx,
			uuid.NewString(),
			base+int64(i)+1,
			s.DriverID,
			s.Day(),
			s.Timestamp.Format(time.RFC3339Nano),
			s.StoreID,
			s.StoreName,
			s.Address,
			s.BranchName,
			nullableCoord(s.Location.Lat),
			nullableCoord(s.Location.Lon),
		)
		if err != nil {
			return fmt.Errorf("seed stops: insert driver=%s index=%d: %w", s.DriverID, i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed stops: commit tx: %w", err)
	}
	return nil
}

func nullableCoord(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
