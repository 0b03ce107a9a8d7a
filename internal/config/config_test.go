// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
target: "native"

database:
  path: "./test.db"

backup:
  path: "./backup.json"
  max_bytes: 1048576

session:
  path: "./session.json"

auth:
  secret: "super-secret"
  token_ttl: "12h"
  revalidation_interval: "30s"

cache:
  ttl: "45s"
  max_entries: 128

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target != "native" {
		t.Errorf("Target = %q, want %q", cfg.Target, "native")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Backup.Path != "./backup.json" {
		t.Errorf("Backup.Path = %q, want %q", cfg.Backup.Path, "./backup.json")
	}
	if cfg.Backup.MaxBytes != 1048576 {
		t.Errorf("Backup.MaxBytes = %d, want %d", cfg.Backup.MaxBytes, 1048576)
	}
	if cfg.Auth.Secret != "super-secret" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "super-secret")
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 12*time.Hour)
	}
	if cfg.Auth.RevalidationInterval != 30*time.Second {
		t.Errorf("Auth.RevalidationInterval = %v, want %v", cfg.Auth.RevalidationInterval, 30*time.Second)
	}
	if cfg.Cache.TTL != 45*time.Second {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 45*time.Second)
	}
	if cfg.Cache.MaxEntries != 128 {
		t.Errorf("Cache.MaxEntries = %d, want %d", cfg.Cache.MaxEntries, 128)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TASKDECK_TEST_SECRET", "from-env")

	configPath := writeConfig(t, `
database:
  path: "./test.db"
auth:
  secret: "${TASKDECK_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "from-env")
	}
}

func TestLoad_UnsetEnvVarIsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
auth:
  secret: "${TASKDECK_DEFINITELY_UNSET_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "" {
		t.Errorf("Auth.Secret = %q, want empty", cfg.Auth.Secret)
	}
}

func TestLoad_DefaultsApply(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Target != "auto" {
		t.Errorf("Target = %q, want %q", cfg.Target, "auto")
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 24*time.Hour)
	}
	if cfg.Auth.RevalidationInterval != time.Minute {
		t.Errorf("Auth.RevalidationInterval = %v, want %v", cfg.Auth.RevalidationInterval, time.Minute)
	}
	if cfg.Cache.MaxEntries != 256 {
		t.Errorf("Cache.MaxEntries = %d, want %d", cfg.Cache.MaxEntries, 256)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
auth:
  token_ttl: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "token_ttl") {
		t.Errorf("error %q should mention token_ttl", err.Error())
	}
}

func TestLoad_InvalidTarget(t *testing.T) {
	configPath := writeConfig(t, `
target: "mainframe"
database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid target")
	}
}

func TestLoad_RemoteRequiresBaseURL(t *testing.T) {
	configPath := writeConfig(t, `
target: "remote"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for remote target without base_url")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error %q should mention base_url", err.Error())
	}
}

func TestLoad_MissingDatabasePathForLocalTarget(t *testing.T) {
	configPath := writeConfig(t, `
target: "native"
database:
  path: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing database path")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate_WebTargetNeedsNoDatabase(t *testing.T) {
	cfg := &Config{Target: "web"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
