package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/safar/game-store/internal/config"
	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate", Format: "console"})
	ctx := context.Background()

	if len(os.Args) < 2 {
		logg.Error(ctx, "usage: go run scripts/run_migrations.go [up|down]", nil)
		os.Exit(2)
	}

	direction := os.Args[1]
	var run func(*sql.DB) error
	switch direction {
	case "up":
		run = database.MigrateUp
	case "down":
		run = database.MigrateDown
	default:
		logg.Error(ctx, "direction must be 'up' or 'down'", nil)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logg.Error(ctx, "failed to connect to database", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(db); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}

	logg.Info(logg.WithField(ctx, "direction", direction), "migrations applied")
}
