package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the YAML files.
const (
	EnvClientSecret     = "TICKETGATE_CLIENT_SECRET"
	EnvDatabasePassword = "TICKETGATE_DATABASE_PASSWORD"
	EnvRedisPassword    = "TICKETGATE_REDIS_PASSWORD"
)

// Config is the root configuration of the ticketgate service.
type Config struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability" validate:"required"`
	Auth          AuthConfig          `yaml:"auth" validate:"required"`
	Session       SessionConfig       `yaml:"session" validate:"required"`
	Database      DatabaseConfig      `yaml:"database" validate:"required"`
	Events        EventsConfig        `yaml:"events"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	CSRF          CSRFConfig          `yaml:"csrf"`
}

// AppConfig identifies the service.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version" validate:"required"`
	Environment string `yaml:"environment" validate:"required,oneof=dev stg prod"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds log/trace/metrics settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds OAuth provider settings.
//
// When Issuer is set the endpoints are resolved through OIDC discovery and
// the explicit URLs are ignored.
type AuthConfig struct {
	Issuer       string   `yaml:"issuer" validate:"omitempty,url"`
	AuthorizeURL string   `yaml:"authorize_url" validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url" validate:"omitempty,url"`
	UserinfoURL  string   `yaml:"userinfo_url" validate:"omitempty,url"`
	ClientID     string   `yaml:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri" validate:"required,url"`
	Scopes       []string `yaml:"scopes"`
	Timeout      string   `yaml:"timeout"`
}

// SessionConfig holds session lifetime and storage settings.
type SessionConfig struct {
	Backend     string             `yaml:"backend" validate:"required,oneof=postgres redis"`
	CookieName  string             `yaml:"cookie_name"`
	Lifetime    string             `yaml:"lifetime"`
	RotateEvery string             `yaml:"rotate_every"`
	Redis       RedisSessionConfig `yaml:"redis"`
}

// RedisSessionConfig holds Redis connection parameters for session storage.
type RedisSessionConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MasterName string `yaml:"master_name"`
	Prefix     string `yaml:"prefix"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	Name            string `yaml:"name" validate:"required"`
	User            string `yaml:"user" validate:"required"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// EventsConfig configures session lifecycle event publishing. Publishing is
// disabled when no brokers are configured.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// UpstreamConfig points at the ticketing application behind the gate.
// Proxying is disabled when BaseURL is empty.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Timeout string `yaml:"timeout"`
}

// CSRFConfig toggles the origin check on state-changing requests.
type CSRFConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DSN builds a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return c.App.Environment != "dev"
}

// ParseDuration parses a duration string with a fallback default.
// A "d" suffix is accepted for whole days.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	var days int
	if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && fmt.Sprintf("%dd", days) == s {
		return time.Duration(days) * 24 * time.Hour
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads the base YAML configuration, optionally merges an environment
// overlay and applies secret overrides from the process environment.
func Load(basePath string, envPath ...string) (*Config, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(envPath) > 0 && envPath[0] != "" {
		envData, err := os.ReadFile(envPath[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read env config: %w", err)
		}
		if err := yaml.Unmarshal(envData, &cfg); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Auth.ClientSecret = v
	}
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Session.Redis.Password = v
	}
}

// Validate runs struct-tag validation over the whole configuration.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Auth.Issuer == "" && (c.Auth.AuthorizeURL == "" || c.Auth.TokenURL == "" || c.Auth.UserinfoURL == "") {
		return errors.New("config validation failed: auth endpoints are required when no issuer is set")
	}
	if c.Session.Backend == "redis" && c.Session.Redis.Addr == "" {
		return errors.New("config validation failed: session.redis.addr is required for the redis backend")
	}
	return nil
}
