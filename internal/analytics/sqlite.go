package analytics

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// created_at is stored as unix milliseconds.
var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UnixMilli() },
	avgWait:     "COALESCE(AVG(wait_seconds), 0.0)",
}

// SQLiteStore is a single-file analytics store for local development and
// tests. It mirrors the calls table the CRM keeps in Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// Call is one row of the calls table.
type Call struct {
	ID          string
	TenantID    string
	Status      string
	CreatedAt   time.Time
	WaitSeconds int
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 2000")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// InsertCall adds a call row. The gateway itself never calls this; it exists
// for seeding local databases and tests.
func (s *SQLiteStore) InsertCall(ctx context.Context, c Call) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls(id, tenant_id, status, created_at, wait_seconds) VALUES(?,?,?,?,?)`,
		c.ID, c.TenantID, c.Status, c.CreatedAt.UnixMilli(), c.WaitSeconds,
	)
	return err
}

func (s *SQLiteStore) CountCalls(ctx context.Context, tenantID string, f Filter) (int64, error) {
	q, args := countQuery(sqliteDialect, tenantID, f)
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AverageWait(ctx context.Context, tenantID string, since time.Time) (float64, error) {
	q, args := averageWaitQuery(sqliteDialect, tenantID, since)
	var avg float64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average wait: %w", err)
	}
	return avg, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
