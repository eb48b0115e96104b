package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type DatabaseConnection struct {
	*pgxpool.Pool
}

// NewDatabaseConnection wraps a pool opened by application.OpenDBPoolWithRetry.
func NewDatabaseConnection(ctx context.Context, pool *pgxpool.Pool) (*DatabaseConnection, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DatabaseConnection{pool}, nil
}

func (db *DatabaseConnection) Close() {
	db.Pool.Close()
}

//go:embed sql/migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "sql/migrations"

// migrationTarget reads GOOSE_DOWN_TO / GOOSE_UP_TO. Without either the
// schema goes to the latest version.
func migrationTarget(lookup func(string) (string, bool)) (version int64, down bool, err error) {
	if v, ok := lookup("GOOSE_DOWN_TO"); ok {
		version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parse GOOSE_DOWN_TO: %w", err)
		}
		return version, true, nil
	}
	if v, ok := lookup("GOOSE_UP_TO"); ok {
		version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parse GOOSE_UP_TO: %w", err)
		}
		return version, false, nil
	}
	return goose.MaxVersion, false, nil
}

// Migrate applies the embedded goose migrations.
func (db *DatabaseConnection) Migrate(ctx context.Context, lookup func(string) (string, bool)) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	target, down, err := migrationTarget(lookup)
	if err != nil {
		return err
	}

	stdDb := stdlib.OpenDBFromPool(db.Pool)
	defer stdDb.Close()

	current, err := goose.GetDBVersionContext(ctx, stdDb)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	slog.Info("migrating schema", "current", current, "target", target, "down", down)

	if down {
		return goose.DownToContext(ctx, stdDb, migrationsDir, target)
	}
	return goose.UpToContext(ctx, stdDb, migrationsDir, target)
}
