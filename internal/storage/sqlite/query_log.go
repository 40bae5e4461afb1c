// Package sqlite provides the default file-backed query log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	case_type TEXT NOT NULL,
	case_number TEXT NOT NULL,
	filing_year TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// QueryLog appends query/response pairs to a SQLite file.
type QueryLog struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema. The
// special path ":memory:" keeps everything in process.
func New(path string) (*QueryLog, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &QueryLog{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create queries table: %w", err)
	}
	return nil
}

// Append inserts one row. The ID field of record is ignored.
func (l *QueryLog) Append(ctx context.Context, record court.QueryRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO queries (case_type, case_number, filing_year, raw_response, created_at) VALUES (?, ?, ?, ?, ?)`,
		record.CaseType,
		record.CaseNumber,
		record.FilingYear,
		record.RawResponse,
		record.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (l *QueryLog) Recent(ctx context.Context, limit int) ([]court.QueryRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, case_type, case_number, filing_year, raw_response, created_at FROM queries ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	out := []court.QueryRecord{}
	for rows.Next() {
		var (
			rec     court.QueryRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.CaseType, &rec.CaseNumber, &rec.FilingYear, &rec.RawResponse, &created); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		rec.Timestamp = ts
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (l *QueryLog) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
