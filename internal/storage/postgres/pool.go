// Package postgres provides Postgres-backed persistence: the key/value
// snapshot store used by the engine and the run-history repository.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the shared Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool used by the stores. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool and verifies the server answers.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the key/value table (when kvTable is set) and, if
// withHistory is true, the run-history tables.
func EnsureSchema(ctx context.Context, db DB, kvTable string, withHistory bool) error {
	var stmts []string
	if kvTable != "" {
		if !validTableName.MatchString(kvTable) {
			return fmt.Errorf("invalid table name %q", kvTable)
		}
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, kvTable))
	}
	if withHistory {
		stmts = append(stmts, historySchema...)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var historySchema = []string{
	`CREATE TABLE IF NOT EXISTS import_runs (
		run_id        TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ,
		error_message TEXT,
		total         INTEGER NOT NULL DEFAULT 0,
		completed     INTEGER NOT NULL DEFAULT 0,
		drafted       INTEGER NOT NULL DEFAULT 0,
		blocked       INTEGER NOT NULL DEFAULT 0,
		failed        INTEGER NOT NULL DEFAULT 0,
		skipped       INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS import_item_outcomes (
		run_id        TEXT NOT NULL REFERENCES import_runs (run_id) ON DELETE CASCADE,
		item_id       TEXT NOT NULL,
		url           TEXT NOT NULL,
		state         TEXT NOT NULL,
		attempts      INTEGER NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		quality_score DOUBLE PRECISION,
		recorded_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, item_id)
	)`,
	`CREATE INDEX IF NOT EXISTS import_runs_started_at_idx ON import_runs (started_at DESC)`,
}
