package analytics

import (
	"context"
	"math"
	"time"
)

// RealTimeMetrics are the short-window figures shown on the live dashboard.
type RealTimeMetrics struct {
	CallsPerMinute int64   `json:"callsPerMinute"`
	AvgWaitTime    float64 `json:"avgWaitTime"`
	SuccessRate    float64 `json:"successRate"`
}

// Dashboard is the per-tenant dashboard:update payload.
type Dashboard struct {
	Timestamp       time.Time       `json:"timestamp"`
	TotalCalls      int64           `json:"totalCalls"`
	ActiveCalls     int64           `json:"activeCalls"`
	CallsLast24h    int64           `json:"callsLast24h"`
	RealTimeMetrics RealTimeMetrics `json:"realTimeMetrics"`
}

// Dashboards builds tenant snapshots from a Querier.
type Dashboards struct {
	q   Querier
	now func() time.Time
}

// NewDashboards returns a builder reading through q.
func NewDashboards(q Querier) *Dashboards {
	return &Dashboards{q: q, now: time.Now}
}

// Dashboard builds a snapshot for tenantID. Any failing query fails the whole
// snapshot.
func (d *Dashboards) Dashboard(ctx context.Context, tenantID string) (Dashboard, error) {
	return BuildDashboard(ctx, d.q, tenantID, d.now().UTC())
}

// BuildDashboard runs the tenant's counters as of now.
func BuildDashboard(ctx context.Context, q Querier, tenantID string, now time.Time) (Dashboard, error) {
	total, err := q.CountCalls(ctx, tenantID, Filter{})
	if err != nil {
		return Dashboard{}, err
	}
	active, err := q.CountCalls(ctx, tenantID, Filter{Status: StatusActive})
	if err != nil {
		return Dashboard{}, err
	}
	dayAgo := now.Add(-24 * time.Hour)
	last24h, err := q.CountCalls(ctx, tenantID, Filter{Since: dayAgo})
	if err != nil {
		return Dashboard{}, err
	}
	lastMinute, err := q.CountCalls(ctx, tenantID, Filter{Since: now.Add(-time.Minute)})
	if err != nil {
		return Dashboard{}, err
	}
	completed24h, err := q.CountCalls(ctx, tenantID, Filter{Status: StatusCompleted, Since: dayAgo})
	if err != nil {
		return Dashboard{}, err
	}
	avgWait, err := q.AverageWait(ctx, tenantID, now.Add(-time.Hour))
	if err != nil {
		return Dashboard{}, err
	}

	var successRate float64
	if last24h > 0 {
		successRate = round1(float64(completed24h) / float64(last24h) * 100)
	}

	return Dashboard{
		Timestamp:    now,
		TotalCalls:   total,
		ActiveCalls:  active,
		CallsLast24h: last24h,
		RealTimeMetrics: RealTimeMetrics{
			CallsPerMinute: lastMinute,
			AvgWaitTime:    round1(avgWait),
			SuccessRate:    successRate,
		},
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
