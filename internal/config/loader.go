package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when path is empty),
// merges it on top of the built-in defaults, applies EQUINOX_* environment
// variable overrides, and returns the final Config. The caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EQUINOX_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Port, "EQUINOX_PORT")
	setDur(&cfg.Server.RequestTimeout, "EQUINOX_REQUEST_TIMEOUT")
	setDur(&cfg.Server.ShutdownTimeout, "EQUINOX_SHUTDOWN_TIMEOUT")

	setStr(&cfg.Database.URL, "EQUINOX_DATABASE_URL")
	setStr(&cfg.Redis.URL, "EQUINOX_REDIS_URL")
	setDur(&cfg.Redis.CacheTTL, "EQUINOX_REDIS_CACHE_TTL")

	setStr(&cfg.Auth.APIKey, "EQUINOX_API_KEY")
	setStr(&cfg.Auth.AdminKey, "EQUINOX_ADMIN_KEY")

	setStr(&cfg.Limits.MaxPerPosition, "EQUINOX_MAX_PER_POSITION")
	setStr(&cfg.Limits.MaxPerMarket, "EQUINOX_MAX_PER_MARKET")
	setStr(&cfg.Limits.MaxTotalExposure, "EQUINOX_MAX_TOTAL_EXPOSURE")

	setStr(&cfg.LogLevel, "EQUINOX_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
