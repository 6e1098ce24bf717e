// Package config provides configuration management for showledger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the showledger configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig represents the operations HTTP listener.
type ServerConfig struct {
	Host         string    `yaml:"host"`
	Port         int       `yaml:"port"`
	ReadTimeout  int       `yaml:"read_timeout"`
	WriteTimeout int       `yaml:"write_timeout"`
	TLS          TLSConfig `yaml:"tls"`
}

// TLSConfig represents TLS settings for the operations listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	MinVersion string `yaml:"min_version"` // 1.2, 1.3
	ClientAuth string `yaml:"client_auth"` // none, verify
}

// StorageConfig represents storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, sqlite, postgresql, mysql
	// LegacyRatingScale seeds an empty store at the integer star scale so that
	// old ratings can be imported before running the scale migration.
	LegacyRatingScale bool             `yaml:"legacy_rating_scale"`
	SQLite            SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL        PostgreSQLConfig `yaml:"postgresql"`
	MySQL             MySQLConfig      `yaml:"mysql"`
}

// SQLiteConfig represents embedded SQLite configuration.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"` // milliseconds
}

// PostgreSQLConfig represents PostgreSQL connection configuration.
type PostgreSQLConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// MySQLConfig represents MySQL connection configuration.
type MySQLConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	TLS             string `yaml:"tls"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// CatalogConfig controls show catalog behaviour.
type CatalogConfig struct {
	// PosterPolicy is fill_missing, last_writer_wins or admin_only.
	PosterPolicy string `yaml:"poster_policy"`
}

// CacheConfig represents the show statistics cache.
type CacheConfig struct {
	Type     string      `yaml:"type"` // none, memory, redis
	TTL      int         `yaml:"ttl"`  // seconds
	Capacity int         `yaml:"capacity"`
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig represents a Redis connection.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig represents domain event publishing.
type EventsConfig struct {
	Type string     `yaml:"type"` // none, amqp
	AMQP AMQPConfig `yaml:"amqp"`
}

// AMQPConfig represents a RabbitMQ connection.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text, console
	Output     string `yaml:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// BootstrapConfig creates an initial admin user when the users table is empty.
// Credentials should be set via SHOWLEDGER_BOOTSTRAP_* environment variables.
type BootstrapConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         9090,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Storage: StorageConfig{
			Type: "memory",
			SQLite: SQLiteConfig{
				Path:        "showledger.db",
				BusyTimeout: 5000,
			},
		},
		Catalog: CatalogConfig{
			PosterPolicy: "fill_missing",
		},
		Cache: CacheConfig{
			Type:     "none",
			TTL:      60,
			Capacity: 1000,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "showledger:",
			},
		},
		Events: EventsConfig{
			Type: "none",
			AMQP: AMQPConfig{
				Exchange: "showledger.events",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// A .env file in the working directory is read first; variables already set
// in the environment win. Environment variables override file configuration.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is from command-line argument, user-controlled input is expected
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func envBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SHOWLEDGER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SHOWLEDGER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SHOWLEDGER_TLS_ENABLED"); v != "" {
		c.Server.TLS.Enabled = envBool(v)
	}
	if v := os.Getenv("SHOWLEDGER_TLS_CERT_FILE"); v != "" {
		c.Server.TLS.CertFile = v
	}
	if v := os.Getenv("SHOWLEDGER_TLS_KEY_FILE"); v != "" {
		c.Server.TLS.KeyFile = v
	}
	if v := os.Getenv("SHOWLEDGER_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SHOWLEDGER_LEGACY_RATING_SCALE"); v != "" {
		c.Storage.LegacyRatingScale = envBool(v)
	}
	if v := os.Getenv("SHOWLEDGER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SHOWLEDGER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SHOWLEDGER_POSTER_POLICY"); v != "" {
		c.Catalog.PosterPolicy = v
	}

	// SQLite overrides
	if v := os.Getenv("SHOWLEDGER_SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}

	// PostgreSQL overrides
	if v := os.Getenv("SHOWLEDGER_PG_HOST"); v != "" {
		c.Storage.PostgreSQL.Host = v
	}
	if v := os.Getenv("SHOWLEDGER_PG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Storage.PostgreSQL.Port = port
		}
	}
	if v := os.Getenv("SHOWLEDGER_PG_DATABASE"); v != "" {
		c.Storage.PostgreSQL.Database = v
	}
	if v := os.Getenv("SHOWLEDGER_PG_USER"); v != "" {
		c.Storage.PostgreSQL.User = v
	}
	if v := os.Getenv("SHOWLEDGER_PG_PASSWORD"); v != "" {
		c.Storage.PostgreSQL.Password = v
	}
	if v := os.Getenv("SHOWLEDGER_PG_SSLMODE"); v != "" {
		c.Storage.PostgreSQL.SSLMode = v
	}

	// MySQL overrides
	if v := os.Getenv("SHOWLEDGER_MYSQL_HOST"); v != "" {
		c.Storage.MySQL.Host = v
	}
	if v := os.Getenv("SHOWLEDGER_MYSQL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Storage.MySQL.Port = port
		}
	}
	if v := os.Getenv("SHOWLEDGER_MYSQL_DATABASE"); v != "" {
		c.Storage.MySQL.Database = v
	}
	if v := os.Getenv("SHOWLEDGER_MYSQL_USER"); v != "" {
		c.Storage.MySQL.User = v
	}
	if v := os.Getenv("SHOWLEDGER_MYSQL_PASSWORD"); v != "" {
		c.Storage.MySQL.Password = v
	}
	if v := os.Getenv("SHOWLEDGER_MYSQL_TLS"); v != "" {
		c.Storage.MySQL.TLS = v
	}

	// Cache and events
	if v := os.Getenv("SHOWLEDGER_CACHE_TYPE"); v != "" {
		c.Cache.Type = v
	}
	if v := os.Getenv("SHOWLEDGER_REDIS_ADDRESS"); v != "" {
		c.Cache.Redis.Address = v
	}
	if v := os.Getenv("SHOWLEDGER_REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("SHOWLEDGER_EVENTS_TYPE"); v != "" {
		c.Events.Type = v
	}
	if v := os.Getenv("SHOWLEDGER_AMQP_URL"); v != "" {
		c.Events.AMQP.URL = v
	}

	// Bootstrap admin user overrides
	if v := os.Getenv("SHOWLEDGER_BOOTSTRAP_ENABLED"); v != "" {
		c.Bootstrap.Enabled = envBool(v)
	}
	if v := os.Getenv("SHOWLEDGER_BOOTSTRAP_USERNAME"); v != "" {
		c.Bootstrap.Username = v
	}
	if v := os.Getenv("SHOWLEDGER_BOOTSTRAP_PASSWORD"); v != "" {
		c.Bootstrap.Password = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if tls := c.Server.TLS; tls.Enabled {
		if tls.CertFile == "" || tls.KeyFile == "" {
			return fmt.Errorf("tls cert_file and key_file are required when tls is enabled")
		}
		switch tls.ClientAuth {
		case "", "none":
		case "verify":
			if tls.CAFile == "" {
				return fmt.Errorf("tls ca_file is required when client_auth is verify")
			}
		default:
			return fmt.Errorf("invalid tls client_auth: %s", tls.ClientAuth)
		}
		switch tls.MinVersion {
		case "", "1.2", "TLS1.2", "1.3", "TLS1.3":
		default:
			return fmt.Errorf("invalid tls min_version: %s", tls.MinVersion)
		}
	}

	validStorageTypes := map[string]bool{
		"memory":     true,
		"sqlite":     true,
		"postgresql": true,
		"mysql":      true,
	}
	if !validStorageTypes[c.Storage.Type] {
		return fmt.Errorf("invalid storage type: %s", c.Storage.Type)
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required when storage type is sqlite")
	}

	validPosterPolicies := map[string]bool{
		"fill_missing":     true,
		"last_writer_wins": true,
		"admin_only":       true,
	}
	if !validPosterPolicies[c.Catalog.PosterPolicy] {
		return fmt.Errorf("invalid poster policy: %s", c.Catalog.PosterPolicy)
	}

	switch c.Cache.Type {
	case "none", "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("redis address is required when cache type is redis")
		}
	default:
		return fmt.Errorf("invalid cache type: %s", c.Cache.Type)
	}
	if c.Cache.Type != "none" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %d", c.Cache.TTL)
	}

	switch c.Events.Type {
	case "none":
	case "amqp":
		if c.Events.AMQP.URL == "" {
			return fmt.Errorf("amqp url is required when events type is amqp")
		}
	default:
		return fmt.Errorf("invalid events type: %s", c.Events.Type)
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Bootstrap.Enabled && (c.Bootstrap.Username == "" || c.Bootstrap.Password == "") {
		return fmt.Errorf("bootstrap username and password are required when bootstrap is enabled")
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CacheTTL returns the cache TTL as a duration.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}
