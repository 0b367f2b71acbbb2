package repositories

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/obs"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// SQL-backed implementation of the StopSource port.
type SqlStopRepository struct {
	DB  *sql.DB
	log *zap.Logger
}

func NewSqlStopRepository(db *sql.DB, log *zap.Logger) *SqlStopRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &SqlStopRepository{DB: db, log: log}
}

// Return all stored stops in arrival order.
func (s *SqlStopRepository) ListStops(ctx context.Context) (_ []domain.Stop, err error) {
	defer obs.Time(ctx, s.log, "stops.List")(&err)

	if s.DB == nil {
		return nil, errors.New("sql stop repository: DB is nil")
	}

	query := `
	SELECT
		driver_id,
		stop_date,
		stop_ts,
		store_id,
		store_name,
		address,
		branch_name,
		lat,
		lng
	FROM stops
	ORDER BY arrival;
	`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stops: query stops table: %w", err)
	}
	defer rows.Close()

	stops := make([]domain.Stop, 0, 64)
	for rows.Next() {
		var (
			st       domain.Stop
			ts       string
			lat, lng sql.NullFloat64
		)
		err := rows.Scan(&st.DriverID, &st.Date, &ts, &st.StoreID, &st.StoreName, &st.Address, &st.BranchName, &lat, &lng)
		if err != nil {
			return nil, fmt.Errorf("list stops: scan row: %w", err)
		}

		st.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("list stops: parse stop_ts %q: %w", ts, err)
		}
		st.Location = domain.Coordinates{Lat: nullToNaN(lat), Lon: nullToNaN(lng)}
		stops = append(stops, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stops: row iteration: %w", err)
	}

	return stops, nil
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
