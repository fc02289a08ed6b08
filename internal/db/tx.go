package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WithTx starts a transaction, runs fn, and commits if fn returns nil.
// If fn returns an error, the transaction is rolled back and that error is returned.
// If commit fails, the commit error is returned.
func WithTx(ctx context.Context, d *sql.DB, fn func(*sql.Tx) error) (err error) {
	if d == nil {
		return errors.New("db: DB is nil")
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("db: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}
