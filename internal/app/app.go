package app

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/adapters/cache"
	"driver-cost-service/internal/adapters/distance"
	"driver-cost-service/internal/adapters/report"
	"driver-cost-service/internal/adapters/repositories"
	"driver-cost-service/internal/config"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/db"
	"driver-cost-service/internal/platform/obs"
	"driver-cost-service/internal/ports"
	"driver-cost-service/internal/services"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App wires concrete adapters behind ports. The cache, provider and rate
// limiter are shared by every run so quota and single-flight hold process-wide.
type App struct {
	cfg config.Config
	log *zap.Logger

	conn    *sql.DB
	dialect db.Dialect

	cache    ports.DistanceCache
	provider ports.RouteProvider
	limiter  *services.RateLimiter
	policy   services.RetryPolicy

	Source ports.StopSource
	Writer ports.ReportWriter

	closers []func()
}

// Options overrides adapters, mostly for tests.
type Options struct {
	Provider ports.RouteProvider
	Cache    ports.DistanceCache
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.cache = opts.Cache
	if a.cache == nil {
		if a.cache, err = a.newDistanceCache(); err != nil {
			return nil, err
		}
	}

	a.provider = opts.Provider
	if a.provider == nil {
		a.provider, err = distance.NewORSRouteProvider(cfg.ORSAPIKey, cfg.ProviderBaseURL, cfg.ProviderProfile, cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
	}

	a.limiter = services.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, nil)
	a.policy = services.NewRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax)

	if a.Source, err = a.newStopSource(); err != nil {
		return nil, err
	}
	if a.Writer, err = a.newReportWriter(); err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases the database and cache connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Run prices stops under a fresh run id.
func (a *App) Run(ctx context.Context, stops []domain.Stop) (*domain.Report, error) {
	runID := uuid.NewString()
	ctx = obs.WithRunID(ctx, runID)
	log := a.log.With(zap.String("run_id", runID))

	resolver := services.NewSegmentResolver(
		a.provider,
		a.cache,
		a.limiter,
		a.policy,
		services.NewFallbackEstimator(a.cfg.FallbackCorrectionFactor),
		nil,
		services.ResolverConfig{
			RunID:          runID,
			RequestTimeout: a.cfg.RequestTimeout,
			LeaseTTL:       a.cfg.LeaseTTL,
			Scope:          a.cfg.Scope(),
			RetryNextRun:   a.cfg.RetryNextRun(),
		},
		log.Named("resolver"),
	)

	pipeline := services.NewPipelineDriver(
		services.NewSequenceBuilder(a.cfg.DistanceAnomalyThresholdKm),
		resolver,
		services.NewCostAggregator(a.cfg.CostPerKm),
		services.PipelineConfig{Workers: a.cfg.Workers, SegmentConcurrency: a.cfg.SegmentConcurrency},
		log.Named("pipeline"),
	)

	return pipeline.Run(ctx, stops, a.Snapshot(runID, time.Now().UTC()))
}

// RunAndWrite reads the configured stop source, prices it and writes the report.
func (a *App) RunAndWrite(ctx context.Context) (*domain.Report, error) {
	stops, err := a.Source.ListStops(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stops: %w", err)
	}

	rep, err := a.Run(ctx, stops)
	if err != nil {
		return nil, err
	}

	if err := a.Write(ctx, rep); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return rep, nil
}

// Write persists rep with the configured report writer.
func (a *App) Write(ctx context.Context, rep *domain.Report) error {
	return a.Writer.WriteReport(obs.WithRunID(ctx, rep.RunID), rep)
}

// Snapshot records the parameters a run is priced with.
func (a *App) Snapshot(runID string, at time.Time) domain.ConfigSnapshot {
	return domain.ConfigSnapshot{
		RunID:                    runID,
		CostPerKm:                a.cfg.CostPerKm,
		ProviderKeyVersion:       a.cfg.ProviderKeyVersion,
		FallbackCorrectionFactor: a.cfg.FallbackCorrectionFactor,
		FallbackPolicy:           a.cfg.FallbackPolicy,
		FingerprintScope:         a.cfg.FingerprintScope,
		RunAt:                    at,
	}
}

func (a *App) needsSQL() bool {
	return a.cfg.CacheBackend == "sqlite" || a.cfg.CacheBackend == "postgres" ||
		a.cfg.Input == "" || strings.EqualFold(a.cfg.Output, "db")
}

// openStore opens Postgres when configured for it (or when a non-SQL cache
// is paired with a database URL), SQLite otherwise.
func (a *App) openStore(ctx context.Context) error {
	if !a.needsSQL() {
		return nil
	}

	var err error
	usePostgres := a.cfg.CacheBackend == "postgres" || (a.cfg.CacheBackend != "sqlite" && a.cfg.DatabaseURL != "")
	if usePostgres {
		a.dialect = db.Postgres
		a.conn, err = db.Open(a.cfg.DatabaseURL)
	} else {
		a.dialect = db.Sqlite
		if err := ensureDir(a.cfg.DBPath); err != nil {
			return err
		}
		a.conn, err = db.OpenSqlite(a.cfg.DBPath)
	}
	if err != nil {
		return err
	}
	conn := a.conn
	a.closers = append(a.closers, func() { _ = conn.Close() })

	return repositories.InitSchema(ctx, a.conn)
}

func (a *App) newDistanceCache() (ports.DistanceCache, error) {
	switch a.cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryDistanceCache(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		return cache.NewRedisDistanceCache(client, a.log.Named("cache")), nil
	case "sqlite", "postgres":
		return cache.NewSQLDistanceCache(a.conn, a.dialect, a.log.Named("cache")), nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", domain.ErrInvalidConfig, a.cfg.CacheBackend)
	}
}

func (a *App) newStopSource() (ports.StopSource, error) {
	switch ext := strings.ToLower(filepath.Ext(a.cfg.Input)); {
	case a.cfg.Input == "":
		return repositories.NewSqlStopRepository(a.conn, a.log.Named("stops")), nil
	case ext == ".json":
		return repositories.JSONStopSource{Path: a.cfg.Input}, nil
	case ext == ".xlsx":
		return repositories.ExcelStopSource{Path: a.cfg.Input, Sheet: a.cfg.InputSheet}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported input %q", domain.ErrInvalidConfig, a.cfg.Input)
	}
}

func (a *App) newReportWriter() (ports.ReportWriter, error) {
	switch {
	case strings.EqualFold(a.cfg.Output, "db"):
		return report.NewSQLReportWriter(a.conn, a.dialect, a.log.Named("report")), nil
	case strings.EqualFold(filepath.Ext(a.cfg.Output), ".xlsx"):
		if err := ensureDir(a.cfg.Output); err != nil {
			return nil, err
		}
		return report.NewExcelReportWriter(a.cfg.Output, a.log.Named("report")), nil
	default:
		return nil, fmt.Errorf("%w: unsupported output %q", domain.ErrInvalidConfig, a.cfg.Output)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %q: %w", dir, err)
	}
	return nil
}
