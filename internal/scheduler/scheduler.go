// Package scheduler runs the periodic broadcasts: a global metrics:update and
// a per-tenant dashboard:update. Both jobs share one cron and are started and
// stopped together.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/callpulse/callpulse/gateway/internal/analytics"
	"github.com/callpulse/callpulse/gateway/internal/metrics"
	"github.com/callpulse/callpulse/gateway/internal/registry"
	"github.com/callpulse/callpulse/gateway/internal/router"
	"github.com/callpulse/callpulse/gateway/internal/telemetry"
)

// Registry is the read side of the connection registry the ticks need.
type Registry interface {
	ConnectedUserCount() int
	DistinctTenants() []string
	RoomSize(room string) int
}

// Broadcaster delivers an event, marshaled once, to a room.
type Broadcaster interface {
	BroadcastToAll(event string, payload any) int
	BroadcastToRoom(room, event string, payload any) int
}

// SystemSampler reports process uptime, memory and CPU.
type SystemSampler interface {
	Sample(ctx context.Context) telemetry.System
}

// DashboardSource builds one tenant's dashboard snapshot.
type DashboardSource interface {
	Dashboard(ctx context.Context, tenantID string) (analytics.Dashboard, error)
}

// CallCounter counts calls; an empty tenant counts across all tenants.
type CallCounter interface {
	CountCalls(ctx context.Context, tenantID string, f analytics.Filter) (int64, error)
}

// Config holds scheduler tuning. MetricsTimeout bounds each call counter
// read on a metrics tick. RedactCallCounts reports the cross-tenant call
// counters as zero.
type Config struct {
	MetricsInterval      time.Duration
	DashboardInterval    time.Duration
	DashboardTimeout     time.Duration
	DashboardConcurrency int
	MetricsTimeout       time.Duration
	RedactCallCounts     bool
}

// DefaultConfig returns the intervals and limits used for unset fields.
func DefaultConfig() Config {
	return Config{
		MetricsInterval:      5 * time.Second,
		DashboardInterval:    10 * time.Second,
		DashboardTimeout:     3 * time.Second,
		DashboardConcurrency: 8,
		MetricsTimeout:       2 * time.Second,
	}
}

// DegradedMessage is sent in place of a tenant dashboard that could not be
// built.
const DegradedMessage = "failed to fetch dashboard data"

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler owns the cron that drives both ticks.
type Scheduler struct {
	cfg        Config
	reg        Registry
	out        Broadcaster
	sampler    SystemSampler
	dashboards DashboardSource
	calls      CallCounter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a Scheduler. calls and m may be nil; call counts then read as
// zero and nothing is instrumented.
func New(cfg Config, reg Registry, out Broadcaster, sampler SystemSampler, dashboards DashboardSource, calls CallCounter, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = def.MetricsInterval
	}
	if cfg.DashboardInterval <= 0 {
		cfg.DashboardInterval = def.DashboardInterval
	}
	if cfg.DashboardTimeout <= 0 {
		cfg.DashboardTimeout = def.DashboardTimeout
	}
	if cfg.DashboardConcurrency <= 0 {
		cfg.DashboardConcurrency = def.DashboardConcurrency
	}
	if cfg.MetricsTimeout <= 0 {
		cfg.MetricsTimeout = def.MetricsTimeout
	}
	return &Scheduler{
		cfg:        cfg,
		reg:        reg,
		out:        out,
		sampler:    sampler,
		dashboards: dashboards,
		calls:      calls,
		metrics:    m,
		logger:     logger.With("component", "scheduler"),
		now:        time.Now,
	}
}

// Start schedules both jobs. Ticks run under a context derived from ctx that
// Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(s.cfg.MetricsInterval), cron.FuncJob(func() { s.TickMetrics(runCtx) }))
	c.Schedule(cron.Every(s.cfg.DashboardInterval), cron.FuncJob(func() { s.TickDashboards(runCtx) }))
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Info("scheduler started",
		"metrics_interval", s.cfg.MetricsInterval,
		"dashboard_interval", s.cfg.DashboardInterval,
	)
	return nil
}

// Stop cancels in-flight ticks and waits for them to return or for ctx to
// expire. Stopping a scheduler that was never started is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) observe(job string, start time.Time) {
	if s.metrics != nil {
		s.metrics.TickDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	}
}

// TickMetrics samples the process and call counters and sends one
// metrics:update to every connection.
func (s *Scheduler) TickMetrics(ctx context.Context) {
	defer s.observe("metrics", time.Now())

	sys := s.sampler.Sample(ctx)
	snap := MetricsSnapshot{
		Timestamp: s.now().UTC(),
		System: SystemSnapshot{
			Uptime:         sys.Uptime.Seconds(),
			Memory:         sys.MemoryBytes,
			CPU:            sys.CPUPercent,
			ConnectedUsers: s.reg.ConnectedUserCount(),
		},
		Calls: s.callCounts(ctx),
	}
	if ctx.Err() != nil {
		return
	}
	n := s.out.BroadcastToAll(router.EventMetricsUpdate, snap)
	s.logger.Debug("metrics tick", "recipients", n)
}

// callCounts reads the three global counters concurrently. A counter that
// fails or outlives MetricsTimeout reads as zero without holding up the
// others.
func (s *Scheduler) callCounts(ctx context.Context) CallCounts {
	var counts CallCounts
	if s.calls == nil || s.cfg.RedactCallCounts {
		return counts
	}
	var g errgroup.Group
	for status, dst := range map[string]*int64{
		analytics.StatusActive:    &counts.Active,
		analytics.StatusQueued:    &counts.Queued,
		analytics.StatusCompleted: &counts.Completed,
	} {
		g.Go(func() error {
			*dst = s.countCalls(ctx, status)
			return nil
		})
	}
	_ = g.Wait()
	return counts
}

type countResult struct {
	n   int64
	err error
}

func (s *Scheduler) countCalls(ctx context.Context, status string) int64 {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.MetricsTimeout)
	defer cancel()

	res := make(chan countResult, 1)
	go func() {
		n, err := s.calls.CountCalls(cctx, "", analytics.Filter{Status: status})
		res <- countResult{n: n, err: err}
	}()

	var r countResult
	select {
	case r = <-res:
	case <-cctx.Done():
		r.err = cctx.Err()
	}
	if r.err != nil {
		s.logger.Debug("call count unavailable", "status", status, "error", r.err)
		return 0
	}
	return r.n
}

// TickDashboards builds and sends a dashboard snapshot to every tenant with
// at least one dashboard subscriber. Tenants are built concurrently up to the
// configured limit; one tenant failing or timing out does not affect the
// others.
func (s *Scheduler) TickDashboards(ctx context.Context) {
	defer s.observe("dashboards", time.Now())

	var g errgroup.Group
	g.SetLimit(s.cfg.DashboardConcurrency)
	for _, tenant := range s.reg.DistinctTenants() {
		room := registry.FeatureRoom(registry.FeatureDashboard, tenant)
		if s.reg.RoomSize(room) == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.sendDashboard(ctx, tenant, room)
			return nil
		})
	}
	_ = g.Wait()
}

type dashboardResult struct {
	dash analytics.Dashboard
	err  error
}

func (s *Scheduler) sendDashboard(ctx context.Context, tenant, room string) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.DashboardTimeout)
	defer cancel()

	// The source may not honour tctx; the select bounds the wait regardless.
	res := make(chan dashboardResult, 1)
	go func() {
		d, err := s.dashboards.Dashboard(tctx, tenant)
		res <- dashboardResult{dash: d, err: err}
	}()

	var r dashboardResult
	select {
	case r = <-res:
	case <-tctx.Done():
		r.err = tctx.Err()
	}

	if ctx.Err() != nil {
		return
	}
	if r.err != nil {
		s.logger.Warn("dashboard snapshot failed", "tenant", tenant, "error", r.err)
		if s.metrics != nil {
			s.metrics.DashboardFailures.Inc()
		}
		s.out.BroadcastToRoom(room, router.EventDashboardUpdate, DegradedDashboard{
			Timestamp: s.now().UTC(),
			Error:     DegradedMessage,
		})
		return
	}
	s.out.BroadcastToRoom(room, router.EventDashboardUpdate, r.dash)
}
