package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
log_level = "debug"

[server]
port = "9090"

[auth]
api_key = "secret"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Errorf("expected api key from file, got %q", cfg.Auth.APIKey)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected default read timeout, got %s", cfg.Server.ReadTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EQUINOX_PORT", "7070")
	t.Setenv("EQUINOX_DATABASE_URL", "postgres://localhost/equinox")
	t.Setenv("EQUINOX_MAX_PER_POSITION", "500")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env override lost: port=%s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost/equinox" {
		t.Errorf("env override lost: database url=%s", cfg.Database.URL)
	}
	if cfg.Limits.MaxPerPosition != "500" {
		t.Errorf("env override lost: max per position=%s", cfg.Limits.MaxPerPosition)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty port should fail validation")
	}

	cfg = Defaults()
	cfg.Redis.URL = "redis://localhost:6379"
	if err := cfg.Validate(); err == nil {
		t.Error("redis without database should fail validation")
	}

	cfg.Database.URL = "postgres://localhost/equinox"
	if err := cfg.Validate(); err != nil {
		t.Errorf("redis with database should validate: %v", err)
	}
}
