package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a run is not in the audit log.
var ErrNotFound = errors.New("run not found")

const createRunsTable = `
CREATE TABLE IF NOT EXISTS simulation_runs (
    id            TEXT PRIMARY KEY,
    request_id    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    failed_state  TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    duration      INTEGER NOT NULL,
    volatility    DOUBLE PRECISION NOT NULL,
    seed          BIGINT NOT NULL,
    num_assets    INTEGER NOT NULL,
    exposures     DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
    points        INTEGER NOT NULL DEFAULT 0,
    duration_ms   BIGINT NOT NULL,
    client_ip     TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS simulation_runs_created_at_idx ON simulation_runs (created_at DESC);
`

// PoolOptions sizes the connection pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// DB wraps a PostgreSQL connection pool for the run audit log.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool and ensures the schema exists.
func New(ctx context.Context, dsn string, opts PoolOptions) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.ConnMaxLifetime > 0 {
		config.MaxConnLifetime = opts.ConnMaxLifetime
	}
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, createRunsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating simulation_runs table: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogRun inserts a run record into the audit log.
func (db *DB) LogRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO simulation_runs (id, request_id, status, failed_state, error,
			duration, volatility, seed, num_assets, exposures, points,
			duration_ms, client_ip, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	exposures := run.Exposures
	if exposures == nil {
		exposures = []float64{}
	}

	_, err := db.pool.Exec(ctx, query,
		run.ID, run.RequestID, run.Status, run.FailedState,
		truncateForDB(run.Error, 4096),
		run.Duration, run.Volatility, run.Seed, run.NumAssets, exposures,
		run.Points, run.DurationMS, run.ClientIP,
		run.CreatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, request_id, status, failed_state, error,
			duration, volatility, seed, num_assets, exposures, points,
			duration_ms, client_ip, created_at, completed_at
		FROM simulation_runs WHERE id = $1`

	var run RunRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.RequestID, &run.Status, &run.FailedState, &run.Error,
		&run.Duration, &run.Volatility, &run.Seed, &run.NumAssets, &run.Exposures, &run.Points,
		&run.DurationMS, &run.ClientIP, &run.CreatedAt, &run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns queries runs with optional filters, newest first.
func (db *DB) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `
		SELECT id, request_id, status, failed_state, error,
			duration, volatility, seed, num_assets, exposures, points,
			duration_ms, client_ip, created_at, completed_at
		FROM simulation_runs
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query, filter.Status, filter.Since, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	results := []RunRecord{}
	for rows.Next() {
		var run RunRecord
		if err := rows.Scan(
			&run.ID, &run.RequestID, &run.Status, &run.FailedState, &run.Error,
			&run.Duration, &run.Volatility, &run.Seed, &run.NumAssets, &run.Exposures, &run.Points,
			&run.DurationMS, &run.ClientIP, &run.CreatedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		results = append(results, run)
	}

	return results, rows.Err()
}

// truncateForDB cuts s to at most maxLen bytes without splitting a UTF-8
// sequence; Postgres rejects invalid UTF-8 in TEXT columns.
func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
