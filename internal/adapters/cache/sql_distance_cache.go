package cache

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/db"
	"driver-cost-service/internal/platform/obs"
	"driver-cost-service/internal/ports"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLDistanceCache is a SQL-backed DistanceCache for SQLite and Postgres.
// Leases live in resolution_leases and expose no Done channel, so waiters poll.
type SQLDistanceCache struct {
	DB      *sql.DB
	Dialect db.Dialect

	log *zap.Logger
	now func() time.Time
}

func NewSQLDistanceCache(conn *sql.DB, dialect db.Dialect, log *zap.Logger) *SQLDistanceCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLDistanceCache{DB: conn, Dialect: dialect, log: log, now: time.Now}
}

// NewSqliteDistanceCache is NewSQLDistanceCache for a SQLite handle.
func NewSqliteDistanceCache(conn *sql.DB, log *zap.Logger) *SQLDistanceCache {
	return NewSQLDistanceCache(conn, db.Sqlite, log)
}

// WithClock overrides the time source used for lease expiry.
func (s *SQLDistanceCache) WithClock(now func() time.Time) *SQLDistanceCache {
	s.now = now
	return s
}

func (s *SQLDistanceCache) Get(ctx context.Context, key string) (_ domain.DistanceResult, _ bool, err error) {
	defer obs.Time(ctx, s.log, "distance.cache.Get")(&err)

	if s.DB == nil {
		return domain.DistanceResult{}, false, errors.New("distance cache: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return domain.DistanceResult{}, false, errors.New("get distance cache: key must not be empty")
	}

	q := s.Dialect.Rebind(`
	SELECT distance_meters, duration_seconds, source, run_id, resolved_at
	FROM distance_cache
	WHERE fingerprint = ?;
	`)

	r, ok, err := scanResult(s.DB.QueryRowContext(ctx, q, key))
	if err != nil {
		return domain.DistanceResult{}, false, fmt.Errorf("get distance cache: %w", err)
	}
	return r, ok, nil
}

func (s *SQLDistanceCache) Put(ctx context.Context, key string, result domain.DistanceResult) (err error) {
	defer obs.Time(ctx, s.log, "distance.cache.Put")(&err)

	if s.DB == nil {
		return errors.New("distance cache: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("insert distance cache: key must not be empty")
	}

	c := toCached(result)
	q := s.Dialect.Rebind(`
	INSERT INTO distance_cache (fingerprint, distance_meters, duration_seconds, source, run_id, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (fingerprint) DO UPDATE
	SET distance_meters = excluded.distance_meters,
		duration_seconds = excluded.duration_seconds,
		source = excluded.source,
		run_id = excluded.run_id,
		resolved_at = excluded.resolved_at;
	`)

	_, err = s.DB.ExecContext(ctx, q,
		key,
		c.DistanceMeters,
		nullableDuration(c.DurationSeconds),
		c.Source,
		c.RunID,
		c.ResolvedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert distance cache key=%q: %w", key, err)
	}
	return nil
}

// TryBeginResolution inserts a lease row, or takes over one that has expired.
// The conditional upsert touches no row while a live lease exists.
func (s *SQLDistanceCache) TryBeginResolution(ctx context.Context, key string, ttl time.Duration) (_ ports.Lease, err error) {
	defer obs.Time(ctx, s.log, "distance.cache.TryBeginResolution")(&err)

	if s.DB == nil {
		return ports.Lease{}, errors.New("distance cache: db is nil")
	}

	now := s.now()
	expires := now.Add(ttl)
	token := uuid.NewString()

	q := s.Dialect.Rebind(`
	INSERT INTO resolution_leases (fingerprint, token, expires_at_ms)
	VALUES (?, ?, ?)
	ON CONFLICT (fingerprint) DO UPDATE
	SET token = excluded.token,
		expires_at_ms = excluded.expires_at_ms
	WHERE resolution_leases.expires_at_ms <= ?;
	`)

	out, err := s.DB.ExecContext(ctx, q, key, token, expires.UnixMilli(), now.UnixMilli())
	if err != nil {
		return ports.Lease{}, fmt.Errorf("begin resolution key=%q: %w", key, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return ports.Lease{}, fmt.Errorf("begin resolution key=%q: rows affected: %w", key, err)
	}
	if n == 1 {
		return ports.Lease{Granted: true, Token: token, ExpiresAt: expires}, nil
	}

	var expiresMs int64
	err = s.DB.QueryRowContext(ctx,
		s.Dialect.Rebind(`SELECT expires_at_ms FROM resolution_leases WHERE fingerprint = ?;`),
		key,
	).Scan(&expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		// Released in between; the caller re-checks the cache right away.
		return ports.Lease{ExpiresAt: now}, nil
	}
	if err != nil {
		return ports.Lease{}, fmt.Errorf("begin resolution key=%q: read holder: %w", key, err)
	}

	return ports.Lease{ExpiresAt: time.UnixMilli(expiresMs)}, nil
}

// ReleaseLease deletes the lease row if token still owns it.
func (s *SQLDistanceCache) ReleaseLease(ctx context.Context, key string, token string) error {
	if s.DB == nil {
		return errors.New("distance cache: db is nil")
	}

	q := s.Dialect.Rebind(`DELETE FROM resolution_leases WHERE fingerprint = ? AND token = ?;`)
	if _, err := s.DB.ExecContext(ctx, q, key, token); err != nil {
		return fmt.Errorf("release lease key=%q: %w", key, err)
	}
	return nil
}
