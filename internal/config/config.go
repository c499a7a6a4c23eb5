// Package config provides configuration management for the grader sync job.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/gradersync/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. GRADERSYNC_SOURCE_URL.
const EnvPrefix = "GRADERSYNC"

// Config is the root configuration of the job.
type Config struct {
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Sheets     SheetsConfig     `mapstructure:"sheets" yaml:"sheets"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
	DLQ        DLQConfig        `mapstructure:"dlq" yaml:"dlq"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Job        JobConfig        `mapstructure:"job" yaml:"job"`
}

// SourceConfig holds the statistics API endpoint and the fixed window.
type SourceConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Client    string        `mapstructure:"client" yaml:"client"`
	ClientKey string        `mapstructure:"client_key" yaml:"client_key"`
	Start     string        `mapstructure:"start" yaml:"start"`
	End       string        `mapstructure:"end" yaml:"end"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Window parses the configured bounds in local time.
func (s SourceConfig) Window() (model.Window, error) {
	w, err := model.ParseWindow(s.Start, s.End, time.Local)
	if err != nil {
		return model.Window{}, fmt.Errorf("parse source window: %w", err)
	}
	return w, nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString builds a postgres:// URL usable by pgx and golang-migrate.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}

// SheetsConfig holds the spreadsheet report target.
type SheetsConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	DocumentURL     string `mapstructure:"document_url" yaml:"document_url"`
}

// OpenSearchConfig holds the optional summary index settings.
type OpenSearchConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
	Index    string `mapstructure:"index" yaml:"index"`
}

// DLQConfig holds dead letter queue configuration for rejected records.
type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend  string `mapstructure:"backend" yaml:"backend"`     // "file" (default) or "jetstream"
	BasePath string `mapstructure:"base_path" yaml:"base_path"` // Only used for file backend
	NatsURL  string `mapstructure:"nats_url" yaml:"nats_url"`   // Only used for jetstream backend
}

// MetricsConfig controls the per-run Prometheus push.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
}

// RedisConfig holds the optional run lock settings.
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string        `mapstructure:"level" yaml:"level"`
	Format    string        `mapstructure:"format" yaml:"format"`
	Dir       string        `mapstructure:"dir" yaml:"dir"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// JobConfig holds run-level behaviour.
type JobConfig struct {
	// StrictExit makes stage failures produce a non-zero exit code.
	StrictExit bool `mapstructure:"strict_exit" yaml:"strict_exit"`
}

// Load reads configuration from path (or $GRADERSYNC_CONFIG_DIR/config.yaml)
// and environment variables. An explicit path must exist; the directory
// lookup tolerates a missing file.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	explicit := path != ""
	if !explicit {
		if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
			path = filepath.Join(dir, "config.yaml")
		}
	}

	// Environment variables override with GRADERSYNC_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if explicit || !missing {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Statistics source
	v.SetDefault("source.url", "https://b2b.itresume.ru/api/statistics")
	v.SetDefault("source.client", "Skillfactory")
	v.SetDefault("source.client_key", "M2MGWS")
	v.SetDefault("source.start", "2025-12-31 00:00:00")
	v.SetDefault("source.end", "2026-01-10 23:59:59")
	v.SetDefault("source.timeout", "0s")

	// Database defaults
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5434)
	v.SetDefault("database.postgres.database", "simulative")
	v.SetDefault("database.postgres.user", "simulative")
	v.SetDefault("database.postgres.password", "simulative")
	v.SetDefault("database.postgres.sslmode", "disable")

	// Spreadsheet report
	v.SetDefault("sheets.enabled", true)
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.document_url", "https://docs.google.com/spreadsheets/d/1o9Iq4z47WwGdB1WnwogeE5IBuS2iorJPDbJCkEavg-A/edit?gid=0#gid=0")

	// OpenSearch summary index
	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index", "gradersync-daily-summary")

	// Rejected record queue
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.base_path", "dlq")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.pushgateway_url", "http://localhost:9091")
	v.SetDefault("metrics.job", "gradersync")

	// Redis run lock
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.lock_ttl", "30m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.retention", "72h")

	v.SetDefault("job.strict_exit", false)
}

// Validate checks the settings every run needs.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url is required"))
	}
	if w, err := c.Source.Window(); err != nil {
		errs = append(errs, err)
	} else if w.End.Before(w.Start) {
		errs = append(errs, fmt.Errorf("source window end %q is before start %q", c.Source.End, c.Source.Start))
	}
	if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
		errs = append(errs, errors.New("database.postgres host and database are required"))
	}
	if c.Sheets.Enabled && (c.Sheets.CredentialsFile == "" || c.Sheets.DocumentURL == "") {
		errs = append(errs, errors.New("sheets.credentials_file and sheets.document_url are required when sheets is enabled"))
	}
	if c.DLQ.Enabled && c.DLQ.Backend != "file" && c.DLQ.Backend != "jetstream" {
		errs = append(errs, fmt.Errorf("dlq.backend %q must be file or jetstream", c.DLQ.Backend))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Masked returns a copy with secrets replaced, for display.
func (c Config) Masked() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Source.ClientKey = mask(c.Source.ClientKey)
	c.Database.Postgres.Password = mask(c.Database.Postgres.Password)
	c.OpenSearch.Password = mask(c.OpenSearch.Password)
	return c
}
