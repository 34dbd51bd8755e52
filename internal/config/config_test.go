package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/callpulse/callpulse/gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulsed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load(testLogger(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != config.DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, config.DefaultAddress)
	}
	if cfg.Scheduler.MetricsInterval != 5*time.Second {
		t.Errorf("MetricsInterval = %v, want 5s", cfg.Scheduler.MetricsInterval)
	}
	if cfg.Scheduler.DashboardInterval != 10*time.Second {
		t.Errorf("DashboardInterval = %v, want 10s", cfg.Scheduler.DashboardInterval)
	}
	if cfg.Gateway.DuplicateLogin != config.DuplicateLoginSupersede {
		t.Errorf("DuplicateLogin = %q, want supersede", cfg.Gateway.DuplicateLogin)
	}
	if cfg.Analytics.Postgres.Port != config.DefaultDBPort {
		t.Errorf("Postgres.Port = %d, want %d", cfg.Analytics.Postgres.Port, config.DefaultDBPort)
	}
	if cfg.Scheduler.MetricsTimeout != config.DefaultMetricsTimeout {
		t.Errorf("MetricsTimeout = %v, want %v", cfg.Scheduler.MetricsTimeout, config.DefaultMetricsTimeout)
	}
	if cfg.Scheduler.RedactCallCounts {
		t.Error("RedactCallCounts defaults to true, want false")
	}
	if cfg.Sessions.Driver != config.DriverPostgres || cfg.Sessions.Postgres.Host != config.DefaultDBHost {
		t.Errorf("Sessions = %+v, want postgres on %s", cfg.Sessions, config.DefaultDBHost)
	}
	if !cfg.Sessions.CheckTokenFormat {
		t.Error("CheckTokenFormat defaults to false, want true")
	}
}

func TestLoad_BoltSessionsFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PULSE_SESSIONS_DRIVER", "bolt")
	t.Setenv("PULSE_SESSIONS_PATH", "/var/lib/pulse/sessions.db")
	t.Setenv("PULSE_SESSIONS_CHECK_TOKEN_FORMAT", "false")

	cfg, err := config.Load(testLogger(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sessions.Driver != config.DriverBolt || cfg.Sessions.Path != "/var/lib/pulse/sessions.db" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Sessions.LockTimeout != config.DefaultSessionsLockTimeout {
		t.Errorf("LockTimeout = %v, want %v", cfg.Sessions.LockTimeout, config.DefaultSessionsLockTimeout)
	}
	if cfg.Sessions.CheckTokenFormat {
		t.Error("CheckTokenFormat = true, want false from env")
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
  origin_patterns: ["app.callpulse.io"]
scheduler:
  metrics_interval: 2s
  dashboard_concurrency: 4
analytics:
  driver: sqlite
  sqlite:
    path: /tmp/analytics.db
`)
	t.Setenv("PULSE_SCHEDULER_METRICS_INTERVAL", "7s")
	t.Setenv("PULSE_GATEWAY_DUPLICATE_LOGIN", "evict")

	cfg, err := config.Load(testLogger(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("Server.Address = %q, want :9000", cfg.Server.Address)
	}
	if len(cfg.Server.OriginPatterns) != 1 || cfg.Server.OriginPatterns[0] != "app.callpulse.io" {
		t.Errorf("OriginPatterns = %v", cfg.Server.OriginPatterns)
	}
	if cfg.Scheduler.MetricsInterval != 7*time.Second {
		t.Errorf("MetricsInterval = %v, want 7s from env", cfg.Scheduler.MetricsInterval)
	}
	if cfg.Scheduler.DashboardConcurrency != 4 {
		t.Errorf("DashboardConcurrency = %d, want 4", cfg.Scheduler.DashboardConcurrency)
	}
	if cfg.Gateway.DuplicateLogin != config.DuplicateLoginEvict {
		t.Errorf("DuplicateLogin = %q, want evict", cfg.Gateway.DuplicateLogin)
	}
	if cfg.Analytics.Driver != config.DriverSQLite || cfg.Analytics.SQLite.Path != "/tmp/analytics.db" {
		t.Errorf("unexpected analytics config: %+v", cfg.Analytics)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	if _, err := config.Load(testLogger(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
gateway:
  duplicate_login: kick
`)
	_, err := config.Load(testLogger(), path)
	if err == nil || !strings.Contains(err.Error(), "duplicate_login") {
		t.Fatalf("error = %v, want duplicate_login validation error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Server: config.ServerConfig{Address: ":8080", ShutdownTimeout: time.Second},
			Gateway: config.GatewayConfig{
				DuplicateLogin: config.DuplicateLoginSupersede,
				SendBuffer:     1, ReadLimit: 1, EventRate: 1, EventBurst: 1,
				PingInterval: time.Second, PingTimeout: time.Second, WriteTimeout: time.Second,
			},
			Scheduler: config.SchedulerConfig{
				MetricsInterval: time.Second, DashboardInterval: time.Second,
				DashboardTimeout: time.Second, DashboardConcurrency: 1,
				MetricsTimeout: time.Second,
			},
			Sessions: config.SessionsConfig{Driver: config.DriverBolt, Path: "s.db", LockTimeout: time.Second},
			Analytics: config.AnalyticsConfig{
				Driver:   config.DriverPostgres,
				Postgres: config.DBConfig{Host: "db", Port: 5432, Name: "cp", MinConns: 1, MaxConns: 2},
			},
			Log: config.LogConfig{Level: "info", Format: "json"},
		}
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*config.Config){
		"sub-second metrics interval": func(c *config.Config) { c.Scheduler.MetricsInterval = 500 * time.Millisecond },
		"zero concurrency":            func(c *config.Config) { c.Scheduler.DashboardConcurrency = 0 },
		"unknown driver":              func(c *config.Config) { c.Analytics.Driver = "mysql" },
		"bad port":                    func(c *config.Config) { c.Analytics.Postgres.Port = 0 },
		"min over max conns":          func(c *config.Config) { c.Analytics.Postgres.MinConns = 5 },
		"bad log format":              func(c *config.Config) { c.Log.Format = "xml" },
		"empty sessions path":         func(c *config.Config) { c.Sessions.Path = "" },
		"zero metrics timeout":        func(c *config.Config) { c.Scheduler.MetricsTimeout = 0 },
		"zero lock timeout":           func(c *config.Config) { c.Sessions.LockTimeout = 0 },
		"unknown sessions driver":     func(c *config.Config) { c.Sessions.Driver = "redis" },
		"sessions postgres no host":   func(c *config.Config) { c.Sessions = config.SessionsConfig{Driver: config.DriverPostgres} },
	}
	for name, mutate := range cases {
		c := valid()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
