package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callpulse/callpulse/gateway/internal/auth"
)

// lookupSessionSQL joins the CRM's sessions and users tables. Ids are read as
// text so uuid and varchar keys both scan.
const lookupSessionSQL = `
SELECT s.is_active, s.expires_at, u.id::text, u.tenant_id::text,
       COALESCE(u.name, ''), COALESCE(u.role, ''),
       COALESCE(u.permissions, '{}'::text[]), u.last_login
FROM sessions s
JOIN users u ON u.id = s.user_id
WHERE s.token = $1`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSessionStore reads sessions the CRM writes to its own database.
type PostgresSessionStore struct {
	db    rowQuerier
	close func()
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)

// NewPostgresSessionStore reads sessions through pool. Closing the store
// closes the pool.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{db: pool, close: pool.Close}
}

// LookupSession returns the record for token, or (nil, nil) when there is none.
func (s *PostgresSessionStore) LookupSession(ctx context.Context, token string) (*auth.SessionRecord, error) {
	rec := auth.SessionRecord{Token: token}
	var lastLogin *time.Time
	err := s.db.QueryRow(ctx, lookupSessionSQL, token).Scan(
		&rec.IsActive,
		&rec.ExpiresAt,
		&rec.User.ID,
		&rec.User.TenantID,
		&rec.User.Name,
		&rec.User.Role,
		&rec.User.Permissions,
		&lastLogin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if lastLogin != nil {
		rec.User.LastLogin = *lastLogin
	}
	return &rec, nil
}

// Close closes the underlying pool.
func (s *PostgresSessionStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
