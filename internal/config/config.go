// Package config provides configuration management for the record manager.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openlibhub/recordman/internal/domain"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the record manager.
type Config struct {
	// Server contains the metrics/health HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Solr contains search index update settings.
	Solr SolrConfig `mapstructure:"solr"`
	// Kafka contains record change event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Dedup contains deduplication engine parameters.
	Dedup DedupConfig `mapstructure:"dedup"`
	// Lockfile is the path of the run lock guarding concurrent invocations.
	// Empty disables locking.
	Lockfile string `mapstructure:"lockfile"`
	// Sources maps source ids to their harvesting source settings.
	Sources map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig holds the metrics/health HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port" validate:"gt=0,lte=65535"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host" validate:"required"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name" validate:"required"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format" validate:"oneof=json console"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// SolrConfig holds search index update settings.
type SolrConfig struct {
	// URL is the Solr update endpoint base URL, e.g. http://localhost:8983/solr/biblio.
	URL string `mapstructure:"url"`
	// Timeout is the timeout for update requests.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum update requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BatchSize is the number of documents sent per update request.
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`
	// CommitWithin asks Solr to commit within this window instead of an
	// explicit commit per batch. Zero sends explicit commits.
	CommitWithin time.Duration `mapstructure:"commit_within"`
}

// KafkaConfig holds record change event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether change events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic for record change events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DedupConfig holds deduplication engine parameters.
type DedupConfig struct {
	// TitleWeight is the weight of title similarity in the fuzzy score.
	TitleWeight float64 `mapstructure:"title_weight" validate:"gte=0,lte=1"`
	// AuthorWeight is the weight of author equality in the fuzzy score.
	AuthorWeight float64 `mapstructure:"author_weight" validate:"gte=0,lte=1"`
	// FuzzyThreshold is the combined score a fuzzy candidate must reach.
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold" validate:"gte=0,lte=1"`
	// YearTolerance is the maximum publication-year difference before an
	// identifier match is treated as a conflict.
	YearTolerance int `mapstructure:"year_tolerance" validate:"gte=0"`
}

// SourceConfig holds the settings of one harvesting source.
type SourceConfig struct {
	// IDPrefix is prepended to record ids in search index documents,
	// e.g. "helka" yields document ids like "helka.12345".
	IDPrefix string `mapstructure:"id_prefix"`
	// Format selects the metadata driver ("dc", "marc").
	Format string `mapstructure:"format" validate:"required"`
	// Institution is the owning institution, exported as provenance.
	Institution string `mapstructure:"institution"`
	// Dedup enables deduplication for this source.
	Dedup bool `mapstructure:"dedup"`
	// Index enables search index updates for this source.
	Index bool `mapstructure:"index"`
	// DriverParams holds source-specific driver parameters, resolved once at
	// load time and handed to drivers as a typed key-value view.
	DriverParams map[string]string `mapstructure:"driver_params"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RECORDMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/recordman")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "recordman")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "recordman")
	// Default to "require" for production security. Use RECORDMAN_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Solr defaults
	v.SetDefault("solr.url", "http://localhost:8983/solr/biblio")
	v.SetDefault("solr.timeout", "60s")
	v.SetDefault("solr.rate_limit", 10.0)
	v.SetDefault("solr.batch_size", 1000)
	v.SetDefault("solr.commit_within", "0s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.records.changed")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Dedup defaults
	v.SetDefault("dedup.title_weight", 0.7)
	v.SetDefault("dedup.author_weight", 0.3)
	v.SetDefault("dedup.fuzzy_threshold", 0.8)
	v.SetDefault("dedup.year_tolerance", 1)

	// Run lock defaults
	v.SetDefault("lockfile", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid value for %s: %q fails %q", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return err
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	for id, src := range c.Sources {
		switch domain.Format(src.Format) {
		case domain.FormatDublinCore, domain.FormatMARC:
		default:
			return fmt.Errorf("source %s: unknown format %q", id, src.Format)
		}
	}

	return nil
}
