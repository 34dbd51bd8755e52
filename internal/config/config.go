// Package config loads gateway configuration from an optional YAML file and
// PULSE_* environment variables.
package config

import "time"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	OriginPatterns  []string      `mapstructure:"origin_patterns"`
	AllowAnyOrigin  bool          `mapstructure:"allow_any_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
}

type GatewayConfig struct {
	// DuplicateLogin is "supersede" or "evict".
	DuplicateLogin string        `mapstructure:"duplicate_login"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	EventRate      float64       `mapstructure:"event_rate"`
	EventBurst     int           `mapstructure:"event_burst"`
}

type SchedulerConfig struct {
	MetricsInterval      time.Duration `mapstructure:"metrics_interval"`
	DashboardInterval    time.Duration `mapstructure:"dashboard_interval"`
	DashboardTimeout     time.Duration `mapstructure:"dashboard_timeout"`
	DashboardConcurrency int           `mapstructure:"dashboard_concurrency"`
	MetricsTimeout       time.Duration `mapstructure:"metrics_timeout"`
	// RedactCallCounts zeroes the cross-tenant call counters in metrics:update.
	RedactCallCounts     bool          `mapstructure:"redact_call_counts"`
}

type SessionsConfig struct {
	// Driver is "postgres" or "bolt".
	Driver           string        `mapstructure:"driver"`
	// Path and LockTimeout apply to the bolt driver.
	Path             string        `mapstructure:"path"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	Postgres         DBConfig      `mapstructure:"postgres"`
	// CheckTokenFormat rejects tokens that are not base58 with a checksum
	// before the store is queried.
	CheckTokenFormat bool          `mapstructure:"check_token_format"`
}

type AnalyticsConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver   string       `mapstructure:"driver"`
	Postgres DBConfig     `mapstructure:"postgres"`
	SQLite   SQLiteConfig `mapstructure:"sqlite"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
