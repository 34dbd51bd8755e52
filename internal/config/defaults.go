package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for optional configuration fields.
const (
	DefaultAddress              = ":8080"
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultMetricsPath          = "/metrics"
	DefaultDuplicateLogin       = DuplicateLoginSupersede
	DefaultSendBuffer           = 256
	DefaultReadLimit            = 64 << 10
	DefaultWriteTimeout         = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 10 * time.Second
	DefaultEventRate            = 20.0
	DefaultEventBurst           = 40
	DefaultMetricsInterval      = 5 * time.Second
	DefaultDashboardInterval    = 10 * time.Second
	DefaultDashboardTimeout     = 3 * time.Second
	DefaultDashboardConcurrency = 8
	DefaultMetricsTimeout       = 2 * time.Second
	DefaultSessionsDriver       = DriverPostgres
	DefaultSessionsPath         = "data/sessions.db"
	DefaultSessionsLockTimeout  = 500 * time.Millisecond
	DefaultAnalyticsDriver      = DriverPostgres
	DefaultDBHost               = "localhost"
	DefaultDBPort               = 5432
	DefaultDBName               = "callpulse"
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultSQLitePath           = "data/analytics.db"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

const (
	DuplicateLoginSupersede = "supersede"
	DuplicateLoginEvict     = "evict"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", DefaultAddress)
	v.SetDefault("server.origin_patterns", []string{})
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.metrics_path", DefaultMetricsPath)

	v.SetDefault("gateway.duplicate_login", DefaultDuplicateLogin)
	v.SetDefault("gateway.send_buffer", DefaultSendBuffer)
	v.SetDefault("gateway.read_limit", DefaultReadLimit)
	v.SetDefault("gateway.write_timeout", DefaultWriteTimeout)
	v.SetDefault("gateway.ping_interval", DefaultPingInterval)
	v.SetDefault("gateway.ping_timeout", DefaultPingTimeout)
	v.SetDefault("gateway.event_rate", DefaultEventRate)
	v.SetDefault("gateway.event_burst", DefaultEventBurst)

	v.SetDefault("scheduler.metrics_interval", DefaultMetricsInterval)
	v.SetDefault("scheduler.dashboard_interval", DefaultDashboardInterval)
	v.SetDefault("scheduler.dashboard_timeout", DefaultDashboardTimeout)
	v.SetDefault("scheduler.dashboard_concurrency", DefaultDashboardConcurrency)
	v.SetDefault("scheduler.metrics_timeout", DefaultMetricsTimeout)
	v.SetDefault("scheduler.redact_call_counts", false)

	v.SetDefault("sessions.driver", DefaultSessionsDriver)
	v.SetDefault("sessions.path", DefaultSessionsPath)
	v.SetDefault("sessions.lock_timeout", DefaultSessionsLockTimeout)
	v.SetDefault("sessions.check_token_format", true)
	setDBDefaults(v, "sessions.postgres")

	v.SetDefault("analytics.driver", DefaultAnalyticsDriver)
	setDBDefaults(v, "analytics.postgres")
	v.SetDefault("analytics.sqlite.path", DefaultSQLitePath)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}

func setDBDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".host", DefaultDBHost)
	v.SetDefault(prefix+".port", DefaultDBPort)
	v.SetDefault(prefix+".user", "")
	v.SetDefault(prefix+".password", "")
	v.SetDefault(prefix+".name", DefaultDBName)
	v.SetDefault(prefix+".sslmode", DefaultDBSSLMode)
	v.SetDefault(prefix+".max_conns", DefaultMaxConns)
	v.SetDefault(prefix+".min_conns", DefaultMinConns)
}
