// Package postgres provides a Postgres-backed query log.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for query rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// QueryLog appends query/response pairs to a Postgres table.
type QueryLog struct {
	pool  pool
	table string
}

// New connects to Postgres, creates the table if needed, and returns a
// QueryLog.
func New(ctx context.Context, cfg Config) (*QueryLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := log.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return log, nil
}

// NewWithPool constructs a QueryLog from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*QueryLog, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "queries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &QueryLog{pool: p, table: table}, nil
}

// Migrate creates the query table when it does not exist.
func (l *QueryLog) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	case_type TEXT NOT NULL,
	case_number TEXT NOT NULL,
	filing_year TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", l.table, err)
	}
	return nil
}

// Append inserts one row. The ID field of record is ignored.
func (l *QueryLog) Append(ctx context.Context, record court.QueryRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	case_type,
	case_number,
	filing_year,
	raw_response,
	created_at
) VALUES ($1,$2,$3,$4,$5)`, l.table)
	_, err := l.pool.Exec(ctx, query,
		record.CaseType,
		record.CaseNumber,
		record.FilingYear,
		record.RawResponse,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (l *QueryLog) Recent(ctx context.Context, limit int) ([]court.QueryRecord, error) {
	query := fmt.Sprintf(`
SELECT id, case_type, case_number, filing_year, raw_response, created_at
FROM %s
ORDER BY id DESC
LIMIT $1`, l.table)
	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	out := []court.QueryRecord{}
	for rows.Next() {
		var rec court.QueryRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.CaseType,
			&rec.CaseNumber,
			&rec.FilingYear,
			&rec.RawResponse,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool.
func (l *QueryLog) Close() error {
	if l == nil || l.pool == nil {
		return nil
	}
	l.pool.Close()
	return nil
}
