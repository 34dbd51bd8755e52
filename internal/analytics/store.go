// Package analytics reads call counters from the CRM's relational store and
// turns them into per-tenant dashboard snapshots. The gateway never writes
// call records; the CRM owns them.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/callpulse/callpulse/gateway/internal/config"
)

// Call statuses as stored by the CRM.
const (
	StatusActive    = "active"
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Filter narrows a call count. Zero fields do not filter.
type Filter struct {
	Status string
	Since  time.Time
}

// Querier is the read surface the gateway needs. An empty tenantID counts
// across all tenants.
type Querier interface {
	CountCalls(ctx context.Context, tenantID string, f Filter) (int64, error)
	// AverageWait returns the mean queue wait in seconds of calls created
	// since the given time, or 0 when there are none.
	AverageWait(ctx context.Context, tenantID string, since time.Time) (float64, error)
}

// Store is a Querier backed by a database connection that must be closed.
type Store interface {
	Querier
	Close() error
}

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.AnalyticsConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown analytics driver %q", cfg.Driver)
	}
}

// dialect captures the per-driver differences in the shared queries.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(time.Time) any
	avgWait     string
}

func buildWhere(d dialect, tenantID string, f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, d.placeholder(len(args))))
	}
	if tenantID != "" {
		add("tenant_id = %s", tenantID)
	}
	if f.Status != "" {
		add("status = %s", f.Status)
	}
	if !f.Since.IsZero() {
		add("created_at >= %s", d.timeArg(f.Since))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func countQuery(d dialect, tenantID string, f Filter) (string, []any) {
	where, args := buildWhere(d, tenantID, f)
	return "SELECT COUNT(*) FROM calls" + where, args
}

func averageWaitQuery(d dialect, tenantID string, since time.Time) (string, []any) {
	where, args := buildWhere(d, tenantID, Filter{Since: since})
	return "SELECT " + d.avgWait + " FROM calls" + where, args
}
