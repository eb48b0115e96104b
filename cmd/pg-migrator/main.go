package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"thirdcoast.systems/reelwatch/internal/application"
	"thirdcoast.systems/reelwatch/internal/config"
	"thirdcoast.systems/reelwatch/internal/db"
)

func main() {
	slog.Info("Starting database migrator")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}

	if err := dbc.Migrate(ctx, os.LookupEnv); err != nil {
		slog.Error("failed to run PostgreSQL migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("Database migrations completed successfully")
}
