package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint failure on either driver.
// A non-empty constraint narrows the match to that index (Postgres reports the name;
// SQLite only reports columns, so any unique failure matches there).
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation &&
			(constraint == "" || pgErr.ConstraintName == constraint)
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(sqErr.Error(), "UNIQUE constraint failed")
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
