package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callpulse/callpulse/gateway/internal/config"
	"github.com/callpulse/callpulse/gateway/internal/database"
)

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	timeArg:     func(t time.Time) any { return t },
	avgWait:     "COALESCE(AVG(wait_seconds), 0)::float8",
}

// PostgresStore reads the CRM's calls table through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore reads calls through an existing pool. Closing the store
// closes the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects a new pool for the calls table.
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*PostgresStore, error) {
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) CountCalls(ctx context.Context, tenantID string, f Filter) (int64, error) {
	q, args := countQuery(postgresDialect, tenantID, f)
	var n int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AverageWait(ctx context.Context, tenantID string, since time.Time) (float64, error) {
	q, args := averageWaitQuery(postgresDialect, tenantID, since)
	var avg float64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average wait: %w", err)
	}
	return avg, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
