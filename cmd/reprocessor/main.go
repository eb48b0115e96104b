package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thirdcoast.systems/reelwatch/internal/application"
	"thirdcoast.systems/reelwatch/internal/config"
	"thirdcoast.systems/reelwatch/internal/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting reprocessor service")

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
	defer dbc.Close()

	application.LogToolVersions(ctx, *conf, slog.Default())

	proc, err := application.NewProcessor(*conf, dbc, slog.Default())
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	r := &reprocessor{
		failures:    db.NewFailureLog(dbc),
		proc:        proc,
		maxAttempts: conf.ReprocessMaxAttempts,
		batchSize:   conf.ReprocessBatchSize,
		backoff:     conf.ReprocessPollInterval,
		logger:      slog.Default().With("component", "reprocessor"),
	}

	wake := make(chan struct{}, 1)
	go listenAndSignal(ctx, conf.DatabaseDSN, wake)

	slog.Info("Reprocessor started",
		"poll_interval", conf.ReprocessPollInterval,
		"max_attempts", conf.ReprocessMaxAttempts,
	)
	r.loop(ctx, conf.ReprocessPollInterval, wake)
	slog.Info("Reprocessor stopping")
}

// listenAndSignal holds a dedicated connection on the failures channel and
// nudges wake on every notification, reconnecting until ctx is done.
func listenAndSignal(ctx context.Context, dsn string, wake chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Parse using pgxpool so pool_* DSN params are consumed client-side.
		poolConf, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			slog.Error("listen parse config failed", "channel", db.FailuresChannel, "error", err)
			return
		}

		conn, err := pgx.ConnectConfig(ctx, poolConf.ConnConfig)
		if err != nil {
			slog.Error("listen connect failed", "channel", db.FailuresChannel, "error", err)
			sleepOrDone(ctx, 2*time.Second)
			continue
		}

		if err := db.Listen(ctx, conn); err != nil {
			slog.Error("LISTEN failed", "channel", db.FailuresChannel, "error", err)
			_ = conn.Close(context.Background())
			sleepOrDone(ctx, 2*time.Second)
			continue
		}

		for {
			if _, err := conn.WaitForNotification(ctx); err != nil {
				if ctx.Err() == nil {
					slog.Error("wait for notification failed", "channel", db.FailuresChannel, "error", err)
				}
				_ = conn.Close(context.Background())
				break
			}

			select {
			case wake <- struct{}{}:
			default:
			}
		}
		sleepOrDone(ctx, 2*time.Second)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
