package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/config"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/logging"
	"github.com/safar/go-ticket-store/migrations"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != migrations.Up && direction != migrations.Down {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	n, err := migrations.Apply(context.Background(), db, direction, func(name string) {
		logger.Info("running migration", zap.String("file", name))
	})
	if err != nil {
		logger.Fatal("migrate", zap.String("direction", direction), zap.Error(err))
	}

	logger.Info("migrations applied", zap.Int("count", n), zap.String("direction", direction))
}
