package store

import (
	"context"
	"fmt"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/config"
	"github.com/callpulse/callpulse/gateway/internal/database"
)

// Sessions is a session source backed by a connection that must be closed.
type Sessions interface {
	auth.SessionStore
	Close() error
}

// Open connects to the session store selected by cfg.Driver. Neither driver
// takes a lock the issuer would have to wait on between lookups.
func Open(ctx context.Context, cfg config.SessionsConfig) (Sessions, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect sessions database: %w", err)
		}
		return NewPostgresSessionStore(pool), nil
	case config.DriverBolt:
		return NewSessionFile(cfg.Path, cfg.LockTimeout), nil
	default:
		return nil, fmt.Errorf("unknown sessions driver %q", cfg.Driver)
	}
}
