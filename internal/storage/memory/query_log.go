package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

// QueryLog keeps query rows in memory for development and tests.
type QueryLog struct {
	mu     sync.RWMutex
	rows   []court.QueryRecord
	nextID int64
}

// NewQueryLog creates an empty in-memory query log.
func NewQueryLog() *QueryLog {
	return &QueryLog{}
}

// Append stores a copy of record with a fresh ID.
func (l *QueryLog) Append(_ context.Context, record court.QueryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	record.ID = l.nextID
	l.rows = append(l.rows, record)
	return nil
}

// Recent returns up to limit rows, newest first.
func (l *QueryLog) Recent(_ context.Context, limit int) ([]court.QueryRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []court.QueryRecord{}
	for i := len(l.rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.rows[i])
	}
	return out, nil
}

// Close is a no-op.
func (l *QueryLog) Close() error { return nil }
