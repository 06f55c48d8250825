// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultFailureTable receives failure rows when no table is configured.
const DefaultFailureTable = "ercot_failures"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FailureStoreConfig controls the Postgres connection pool used for failure rows.
type FailureStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// FailureRow is one recorded failure.
type FailureRow struct {
	RunID      string
	RecordedAt time.Time
	DatasetID  string
	Stage      string
	DocID      string
	Page       int
	Error      string
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FailureStore writes failure rows into Postgres.
type FailureStore struct {
	pool  execCloser
	table string
	query string
}

// NewFailureStore connects a pool using cfg.
func NewFailureStore(ctx context.Context, cfg FailureStoreConfig) (*FailureStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("failures.postgres_dsn is required")
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
	return newStore(pool, table), nil
}

// NewFailureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFailureStoreWithPool(pool execCloser, table string) (*FailureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newStore(pool, name), nil
}

func newStore(pool execCloser, table string) *FailureStore {
	return &FailureStore{
		pool:  pool,
		table: table,
		query: fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	recorded_at,
	dataset_id,
	stage,
	doc_id,
	page,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, table),
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultFailureTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Table returns the destination table name.
func (s *FailureStore) Table() string {
	return s.table
}

// Close releases the underlying pool resources.
func (s *FailureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertFailure stores one row. A zero page is written as NULL.
func (s *FailureStore) InsertFailure(ctx context.Context, row FailureRow) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("failure store is not configured")
	}
	if row.Stage == "" {
		return fmt.Errorf("failure stage is required")
	}
	var page any
	if row.Page > 0 {
		page = row.Page
	}
	args := []any{
		row.RunID,
		row.RecordedAt.UTC(),
		row.DatasetID,
		row.Stage,
		row.DocID,
		page,
		row.Error,
	}
	if _, err := s.pool.Exec(ctx, s.query, args...); err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}
