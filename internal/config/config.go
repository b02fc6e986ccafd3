// Package config defines the configuration for the validation market engine
// and loads it from a TOML file with EQUINOX_* environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by EQUINOX_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Auth     AuthConfig     `toml:"auth"`
	Limits   LimitsConfig   `toml:"limits"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Port            string        `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL selects
// the in-memory store and ledger.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds Redis cache parameters. An empty URL disables caching.
type RedisConfig struct {
	URL      string        `toml:"url"`
	CacheTTL time.Duration `toml:"cache_ttl"`
}

// AuthConfig holds API authentication keys. An empty APIKey disables request
// authentication; AdminKey authorizes resolve/cancel and the force override.
type AuthConfig struct {
	APIKey   string `toml:"api_key"`
	AdminKey string `toml:"admin_key"`
}

// LimitsConfig holds stake limits. Zero disables a limit. Values are decimal
// strings to avoid float money.
type LimitsConfig struct {
	MaxPerPosition   string `toml:"max_per_position"`
	MaxPerMarket     string `toml:"max_per_market"`
	MaxTotalExposure string `toml:"max_total_exposure"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			CacheTTL: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Validate checks invariants that Load cannot express.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server.port must not be empty")
	}
	if c.Redis.URL != "" && c.Database.URL == "" {
		return fmt.Errorf("config: redis cache requires a database")
	}
	return nil
}
