// Package config loads runtime configuration from files and environment
// variables through Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the engine.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	History     HistoryConfig  `mapstructure:"history"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// RateLimit is the sustained requests-per-second budget per instance;
	// RateBurst is the burst allowance on top of it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// DatabaseConfig configures the PostgreSQL result archive.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HistoryConfig selects and tunes the observation history backend.
type HistoryConfig struct {
	// Backend is one of "memory", "sqlite", "postgres", "redis".
	Backend string `mapstructure:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `mapstructure:"sqlite_path"`
	// RedisAddr, RedisPassword and RedisDB configure the redis backend.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	OpTimeout    time.Duration `mapstructure:"op_timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// FetchLimit caps the points fetched per series; zero fetches all.
	FetchLimit int `mapstructure:"fetch_limit"`
}

// EngineConfig tunes the classification and trend thresholds.
type EngineConfig struct {
	// BorderlineMargin is the fraction of the range width that counts as
	// borderline next to a boundary.
	BorderlineMargin float64 `mapstructure:"borderline_margin"`
	// NoiseFraction is the fraction of the range width below which a change
	// between consecutive values is noise.
	NoiseFraction float64 `mapstructure:"noise_fraction"`
	// Concurrency bounds parallel row processing per report.
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Manager loads and serves the configuration.
type Manager struct {
	config *Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/labtrend/")

	viper.SetEnvPrefix("LABTREND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and environment variables suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.rate_limit", 50.0)
	viper.SetDefault("server.rate_burst", 100)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "labtrend")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("history.backend", "memory")
	viper.SetDefault("history.sqlite_path", "./data/history.db")
	viper.SetDefault("history.redis_addr", "localhost:6379")
	viper.SetDefault("history.redis_password", "")
	viper.SetDefault("history.redis_db", 0)
	viper.SetDefault("history.op_timeout", "2s")
	viper.SetDefault("history.retries", 2)
	viper.SetDefault("history.retry_backoff", "50ms")
	viper.SetDefault("history.fetch_limit", 0)

	viper.SetDefault("engine.borderline_margin", 0.10)
	viper.SetDefault("engine.noise_fraction", 0.05)
	viper.SetDefault("engine.concurrency", 4)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.History.Backend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("invalid history backend: %s", config.History.Backend)
	}
	if config.History.Backend == "sqlite" && config.History.SQLitePath == "" {
		return fmt.Errorf("sqlite history backend requires a database path")
	}
	if config.History.Backend == "redis" && config.History.RedisAddr == "" {
		return fmt.Errorf("redis history backend requires an address")
	}
	if config.History.Backend == "postgres" {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if config.Engine.BorderlineMargin < 0 || config.Engine.BorderlineMargin >= 0.5 {
		return fmt.Errorf("borderline margin must be in [0, 0.5): %g", config.Engine.BorderlineMargin)
	}
	if config.Engine.NoiseFraction < 0 || config.Engine.NoiseFraction >= 1 {
		return fmt.Errorf("noise fraction must be in [0, 1): %g", config.Engine.NoiseFraction)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
