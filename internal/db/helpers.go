package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsMissingSchemaErr reports whether err comes from a table or column that
// does not exist yet, which usually means migrations have not been run.
func IsMissingSchemaErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42703 = undefined_column
		// 42P01 = undefined_table
		return pgErr.Code == "42703" || pgErr.Code == "42P01"
	}
	return false
}
