// Package postgres provides the optional Postgres-backed fetch history.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webscout/internal/crawler"
)

const defaultTable = "fetch_log"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FetchLogConfig controls the Postgres connection pool used for fetch rows.
type FetchLogConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FetchLog writes one row per fetch attempt.
type FetchLog struct {
	pool  execCloser
	table string
}

// NewFetchLog connects to Postgres using the provided config.
func NewFetchLog(ctx context.Context, cfg FetchLogConfig) (*FetchLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &FetchLog{pool: pool, table: table}, nil
}

// NewFetchLogWithPool constructs a log from an existing pool (primarily for testing).
func NewFetchLogWithPool(pool execCloser, table string) (*FetchLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FetchLog{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *FetchLog) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the fetch table when it is missing.
func (s *FetchLog) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	domain       TEXT NOT NULL,
	status_code  INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	error_text   TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	bytes        INTEGER NOT NULL DEFAULT 0,
	elapsed_ms   BIGINT NOT NULL DEFAULT 0,
	fetched_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordFetch inserts a fetch row into Postgres.
func (s *FetchLog) RecordFetch(ctx context.Context, record crawler.FetchRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("fetch log is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	domain,
	status_code,
	outcome,
	error_text,
	content_hash,
	bytes,
	elapsed_ms,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.ID,
		record.URL,
		record.Domain,
		record.StatusCode,
		record.Outcome,
		record.ErrorText,
		record.ContentHash,
		record.Bytes,
		record.Elapsed.Milliseconds(),
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}
	return nil
}
