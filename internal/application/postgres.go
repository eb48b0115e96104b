package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"thirdcoast.systems/reelwatch/internal/config"
)

// dbOpenBackoffBase seeds a Fibonacci backoff, which grows by roughly the golden ratio per attempt.
var dbOpenBackoffBase = 1 * time.Second

// OpenDBPoolWithRetry initializes a new PostgreSQL connection pool with retry logic.
func OpenDBPoolWithRetry(ctx context.Context, conf config.Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	retries := conf.DatabaseRetries
	if retries < 1 {
		retries = 1
	}
	backoff := func() retry.Backoff {
		return retry.WithMaxRetries(uint64(retries-1), retry.NewFibonacci(dbOpenBackoffBase))
	}

	slog.Info("Connecting to database", "host", cfg.ConnConfig.Host)

	var pool *pgxpool.Pool
	err = retry.Do(ctx, backoff(), func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			slog.Warn("database pool creation failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after multiple attempts: %w", err)
	}

	err = retry.Do(ctx, backoff(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			slog.Warn("database ping failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database after multiple attempts: %w", err)
	}

	slog.Info("Connected to database", "host", cfg.ConnConfig.Host)
	return pool, nil
}
