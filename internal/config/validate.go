package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}

	switch c.Gateway.DuplicateLogin {
	case DuplicateLoginSupersede, DuplicateLoginEvict:
	default:
		return fmt.Errorf("gateway.duplicate_login must be %q or %q, got %q",
			DuplicateLoginSupersede, DuplicateLoginEvict, c.Gateway.DuplicateLogin)
	}
	if c.Gateway.SendBuffer < 1 {
		return errors.New("gateway.send_buffer must be >= 1")
	}
	if c.Gateway.ReadLimit < 1 {
		return errors.New("gateway.read_limit must be >= 1")
	}
	if c.Gateway.EventRate <= 0 {
		return errors.New("gateway.event_rate must be > 0")
	}
	if c.Gateway.EventBurst < 1 {
		return errors.New("gateway.event_burst must be >= 1")
	}
	if c.Gateway.PingInterval <= 0 || c.Gateway.PingTimeout <= 0 || c.Gateway.WriteTimeout <= 0 {
		return errors.New("gateway ping_interval, ping_timeout and write_timeout must be > 0")
	}

	// cron's constant-delay schedules have one second resolution.
	if c.Scheduler.MetricsInterval < time.Second {
		return errors.New("scheduler.metrics_interval must be >= 1s")
	}
	if c.Scheduler.DashboardInterval < time.Second {
		return errors.New("scheduler.dashboard_interval must be >= 1s")
	}
	if c.Scheduler.DashboardTimeout <= 0 {
		return errors.New("scheduler.dashboard_timeout must be > 0")
	}
	if c.Scheduler.DashboardConcurrency < 1 {
		return errors.New("scheduler.dashboard_concurrency must be >= 1")
	}
	if c.Scheduler.MetricsTimeout <= 0 {
		return errors.New("scheduler.metrics_timeout must be > 0")
	}

	switch c.Sessions.Driver {
	case DriverPostgres:
		if err := c.Sessions.Postgres.validate("sessions.postgres"); err != nil {
			return err
		}
	case DriverBolt:
		if c.Sessions.Path == "" {
			return errors.New("sessions.path is required")
		}
		if c.Sessions.LockTimeout <= 0 {
			return errors.New("sessions.lock_timeout must be > 0")
		}
	default:
		return fmt.Errorf("sessions.driver must be %q or %q, got %q", DriverPostgres, DriverBolt, c.Sessions.Driver)
	}

	switch c.Analytics.Driver {
	case DriverPostgres:
		if err := c.Analytics.Postgres.validate("analytics.postgres"); err != nil {
			return err
		}
	case DriverSQLite:
		if c.Analytics.SQLite.Path == "" {
			return errors.New("analytics.sqlite.path is required")
		}
	default:
		return fmt.Errorf("analytics.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Analytics.Driver)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns must be <= max_conns", prefix)
	}
	return nil
}
