package cache

import (
	"database/sql"
	"driver-cost-service/internal/domain"
	"errors"
	"fmt"
	"time"
)

// cachedResult is the persisted form of a DistanceResult. The stored source
// is always the original provenance, never "cached".
type cachedResult struct {
	DistanceMeters  float64   `json:"distance_meters"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	Source          string    `json:"source"`
	RunID           string    `json:"run_id"`
	ResolvedAt      time.Time `json:"resolved_at"`
}

func toCached(r domain.DistanceResult) cachedResult {
	return cachedResult{
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		Source:          string(r.Provenance()),
		RunID:           r.RunID,
		ResolvedAt:      r.ResolvedAt.UTC(),
	}
}

func (c cachedResult) result() domain.DistanceResult {
	return domain.DistanceResult{
		DistanceMeters:  c.DistanceMeters,
		DurationSeconds: c.DurationSeconds,
		Source:          domain.Source(c.Source),
		RunID:           c.RunID,
		ResolvedAt:      c.ResolvedAt,
	}
}

// scanResult reads one distance_cache row.
func scanResult(row *sql.Row) (domain.DistanceResult, bool, error) {
	var (
		c          cachedResult
		duration   sql.NullFloat64
		resolvedAt string
	)
	err := row.Scan(&c.DistanceMeters, &duration, &c.Source, &c.RunID, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DistanceResult{}, false, nil
	}
	if err != nil {
		return domain.DistanceResult{}, false, fmt.Errorf("scan row: %w", err)
	}

	if duration.Valid {
		d := duration.Float64
		c.DurationSeconds = &d
	}
	if resolvedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, resolvedAt)
		if err != nil {
			return domain.DistanceResult{}, false, fmt.Errorf("parse resolved_at %q: %w", resolvedAt, err)
		}
		c.ResolvedAt = t
	}

	return c.result(), true, nil
}

func nullableDuration(d *float64) any {
	if d == nil {
		return nil
	}
	return *d
}
