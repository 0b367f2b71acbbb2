package main

import (
	"context"
	"driver-cost-service/internal/app"
	"driver-cost-service/internal/config"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/logging"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// main runs one batch: read stops, price them, write the report.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.RunAndWrite(ctx)
	if err != nil {
		return err
	}

	logger.Info("run complete",
		zap.String("run_id", rep.RunID),
		zap.Int("driver_days", len(rep.Daily)),
		zap.Int("segments", len(rep.Segments)),
		zap.Int("fallback_segments", len(rep.DiagnosticsOf(domain.DiagProviderFallback))),
		zap.Int("diagnostics", len(rep.Diagnostics)),
	)
	return nil
}
