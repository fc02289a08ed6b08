package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens a DB, tunes the pool and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:mindengage-exams.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/mindengage?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: schema: %w", err)
	}
	return db, nil
}

func tunePool(driver Driver, db *sql.DB) {
	switch driver {
	case DriverSQLite:
		// single writer; also keeps in-memory databases alive on one connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS exams (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  creator_id INTEGER NOT NULL,
  title TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  duration INTEGER NOT NULL DEFAULT 30,        -- minutes
  total_question INTEGER NOT NULL DEFAULT 0,
  earliest_start_time BIGINT,
  latest_start_time BIGINT,
  max_attempt INTEGER,                         -- NULL = unlimited
  is_public BOOLEAN NOT NULL DEFAULT 0,
  list_question TEXT NOT NULL DEFAULT '[]',    -- [{question_id, score}]
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  creator_id INTEGER NOT NULL DEFAULT 0,
  content TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL DEFAULT 'single_choice',
  score REAL NOT NULL DEFAULT 1,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS choices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  position INTEGER NOT NULL DEFAULT 0,
  content TEXT NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  is_correct BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS choices_question ON choices(question_id);

CREATE TABLE IF NOT EXISTS exam_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exam_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  started_at BIGINT NOT NULL,                  -- unix ms
  duration INTEGER NOT NULL,                   -- minutes, copied from exam
  finished_at BIGINT,
  deleted_at BIGINT,
  list_answer TEXT NOT NULL DEFAULT '[]',
  total_question INTEGER,
  correct_question INTEGER,
  wrong_question INTEGER,
  score REAL,
  job_id TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL DEFAULT 1,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS exam_attempts_exam_user ON exam_attempts(exam_id, user_id);
CREATE UNIQUE INDEX IF NOT EXISTS exam_attempts_one_open
  ON exam_attempts(exam_id, user_id) WHERE finished_at IS NULL AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,                           -- e.g., AttemptFinished
  key TEXT NOT NULL,                           -- natural key: attempt id
  data TEXT NOT NULL,                          -- JSON payload
  created_at BIGINT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
  id BIGSERIAL PRIMARY KEY,
  creator_id BIGINT NOT NULL,
  title TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  duration INTEGER NOT NULL DEFAULT 30,
  total_question INTEGER NOT NULL DEFAULT 0,
  earliest_start_time BIGINT,
  latest_start_time BIGINT,
  max_attempt INTEGER,
  is_public BOOLEAN NOT NULL DEFAULT FALSE,
  list_question TEXT NOT NULL DEFAULT '[]',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id BIGSERIAL PRIMARY KEY,
  creator_id BIGINT NOT NULL DEFAULT 0,
  content TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL DEFAULT 'single_choice',
  score DOUBLE PRECISION NOT NULL DEFAULT 1,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS choices (
  id BIGSERIAL PRIMARY KEY,
  question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  position INTEGER NOT NULL DEFAULT 0,
  content TEXT NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  is_correct BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS choices_question ON choices(question_id);

CREATE TABLE IF NOT EXISTS exam_attempts (
  id BIGSERIAL PRIMARY KEY,
  exam_id BIGINT NOT NULL,
  user_id BIGINT NOT NULL,
  started_at BIGINT NOT NULL,
  duration INTEGER NOT NULL,
  finished_at BIGINT,
  deleted_at BIGINT,
  list_answer TEXT NOT NULL DEFAULT '[]',
  total_question INTEGER,
  correct_question INTEGER,
  wrong_question INTEGER,
  score DOUBLE PRECISION,
  job_id TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL DEFAULT 1,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS exam_attempts_exam_user ON exam_attempts(exam_id, user_id);
CREATE UNIQUE INDEX IF NOT EXISTS exam_attempts_one_open
  ON exam_attempts(exam_id, user_id) WHERE finished_at IS NULL AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
