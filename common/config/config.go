// Package config provides the configuration shared by the bridge processes.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Env prefixes per process.
const (
	PrefixBridge    = "BRIDGE"
	PrefixMaterials = "MATERIALS"
	PrefixLogistics = "LOGISTICS"
	PrefixDriver    = "DRIVER"
)

// Stream and cross-reference backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendJetStream = "jetstream"
	BackendPostgres  = "postgres"
)

// Config is the full configuration of one bridge process. Every process
// loads the same shape and reads only the sections it needs.
type Config struct {
	Service    string           `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Xref       XrefConfig       `mapstructure:"xref"`
	Deadline   DeadlineConfig   `mapstructure:"deadline"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Remote     RemoteConfig     `mapstructure:"remote"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// StreamConfig selects and tunes the stream bus.
type StreamConfig struct {
	Backend      string        `mapstructure:"backend"`
	Retention    int           `mapstructure:"retention"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	// Consumer names this process inside its consumer groups. Empty means hostname.
	Consumer string `mapstructure:"consumer"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CursorBucket  string        `mapstructure:"cursor_bucket"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns a postgres:// connection string.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

// XrefConfig selects the cross-reference store.
type XrefConfig struct {
	Backend string `mapstructure:"backend"`
	// Migrate applies the embedded schema on startup (postgres only).
	Migrate bool `mapstructure:"migrate"`
}

// DeadlineConfig describes the business calendar and SLA table.
type DeadlineConfig struct {
	BusinessHoursOnly bool     `mapstructure:"business_hours_only"`
	Start             string   `mapstructure:"start"`
	End               string   `mapstructure:"end"`
	Workdays          []string `mapstructure:"workdays"`
	Holidays          []string `mapstructure:"holidays"`
	Timezone          string   `mapstructure:"timezone"`
	BufferMinutes     int      `mapstructure:"buffer_minutes"`
	WarningThreshold  float64  `mapstructure:"warning_threshold"`
	// SLA maps entity type to priority to minutes.
	SLA             map[string]map[string]int `mapstructure:"sla"`
	DefaultSLA      map[string]int            `mapstructure:"default_sla"`
	FallbackMinutes int                       `mapstructure:"fallback_minutes"`
}

// MonitorConfig tunes the deadline monitor.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// OpenSearchConfig holds OpenSearch connection settings for the event archive.
type OpenSearchConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix   string `mapstructure:"index_prefix"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	Log        bool          `mapstructure:"log"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds the service token secret used for driver uploads.
// An empty secret disables token checks on the server.
type AuthConfig struct {
	ServiceSecret string        `mapstructure:"service_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

// CaptureConfig configures the driver device's offline capture store.
type CaptureConfig struct {
	Dir          string        `mapstructure:"dir"`
	DeviceID     string        `mapstructure:"device_id"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ProbeEvery   time.Duration `mapstructure:"probe_every"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	Burst        int           `mapstructure:"burst"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// RemoteConfig points the driver device at the logistics API.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from the YAML file at path (optional) and from
// environment variables named PREFIX_SECTION_KEY.
func Load(path, prefix string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that no component could run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Stream.Backend {
	case BackendMemory, BackendRedis, BackendJetStream:
	default:
		errs = append(errs, fmt.Errorf("stream.backend: unknown backend %q", c.Stream.Backend))
	}
	switch c.Xref.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("xref.backend: unknown backend %q", c.Xref.Backend))
	}
	if c.Stream.Retention <= 0 {
		errs = append(errs, errors.New("stream.retention must be positive"))
	}
	if c.Stream.PollInterval <= 0 {
		errs = append(errs, errors.New("stream.poll_interval must be positive"))
	}
	if c.Stream.BatchSize <= 0 {
		errs = append(errs, errors.New("stream.batch_size must be positive"))
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive when the monitor is enabled"))
	}
	if c.Capture.SyncInterval <= 0 {
		errs = append(errs, errors.New("capture.sync_interval must be positive"))
	}
	if c.Capture.ProbeEvery <= 0 {
		errs = append(errs, errors.New("capture.probe_every must be positive"))
	}
	if c.Capture.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("capture.probe_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "bridge")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("stream.backend", BackendMemory)
	v.SetDefault("stream.retention", 10000)
	v.SetDefault("stream.poll_interval", "1s")
	v.SetDefault("stream.batch_size", 100)
	v.SetDefault("stream.consumer", "")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")
	v.SetDefault("nats.cursor_bucket", "BRIDGE_CURSORS")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "bridge")
	v.SetDefault("postgres.user", "bridge")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("xref.backend", BackendMemory)
	v.SetDefault("xref.migrate", true)

	v.SetDefault("deadline.business_hours_only", true)
	v.SetDefault("deadline.start", "08:00")
	v.SetDefault("deadline.end", "17:00")
	v.SetDefault("deadline.workdays", []string{"mon", "tue", "wed", "thu", "fri"})
	v.SetDefault("deadline.holidays", []string{})
	v.SetDefault("deadline.timezone", "UTC")
	v.SetDefault("deadline.buffer_minutes", 0)
	v.SetDefault("deadline.warning_threshold", 75.0)
	v.SetDefault("deadline.default_sla", map[string]int{
		"critical": 60,
		"high":     240,
		"medium":   480,
		"low":      1440,
	})
	v.SetDefault("deadline.fallback_minutes", 480)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "1m")

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index_prefix", "bridge-events")

	v.SetDefault("notify.log", true)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("auth.service_secret", "")
	v.SetDefault("auth.token_ttl", "5m")

	v.SetDefault("capture.dir", "./capture")
	v.SetDefault("capture.device_id", "")
	v.SetDefault("capture.sync_interval", "30s")
	v.SetDefault("capture.probe_timeout", "3s")
	v.SetDefault("capture.probe_every", "10s")
	v.SetDefault("capture.rate_per_sec", 5.0)
	v.SetDefault("capture.burst", 1)
	v.SetDefault("capture.max_attempts", 3)

	v.SetDefault("remote.url", "http://localhost:8081")
	v.SetDefault("remote.timeout", "30s")
}
