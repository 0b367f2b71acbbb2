package main

import (
	"context"
	"database/sql"
	"driver-cost-service/internal/adapters/repositories"
	"driver-cost-service/internal/platform/db"
	"driver-cost-service/internal/platform/logging"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	fs := pflag.NewFlagSet("dbtool", pflag.ExitOnError)
	dbPath := fs.String("db-path", "data/costrun.db", "sqlite database path (ignored when DATABASE_URL is set)")
	seedPath := fs.String("seed", "data/seeds/stops.json", "JSON stop seed; empty skips seeding")
	_ = fs.Parse(os.Args[1:])

	logger, err := logging.New("info", true)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	conn, dialect, err := open(*dbPath)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	if err := initAndSeed(context.Background(), conn, dialect, *seedPath, logger); err != nil {
		logger.Fatal("dbtool failed", zap.Error(err))
	}
}

func open(dbPath string) (*sql.DB, db.Dialect, error) {
	if databaseURL := os.Getenv("DATABASE_URL"); strings.TrimSpace(databaseURL) != "" {
		conn, err := db.Open(databaseURL)
		return conn, db.Postgres, err
	}
	conn, err := db.OpenSqlite(dbPath)
	return conn, db.Sqlite, err
}

func initAndSeed(ctx context.Context, conn *sql.DB, dialect db.Dialect, seedPath string, logger *zap.Logger) error {
	logger.Info("Initializing database schema...", zap.String("dialect", string(dialect)))
	if err := repositories.InitSchema(ctx, conn); err != nil {
		return err
	}
	logger.Info("Schema ready.")

	if seedPath == "" {
		return nil
	}

	logger.Info("Seeding stops...", zap.String("seed", seedPath))
	if err := repositories.SeedFromJSON(ctx, conn, dialect, seedPath); err != nil {
		return err
	}
	logger.Info("Seeding complete.")

	return nil
}
