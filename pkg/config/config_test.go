package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLEETDESK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 8080 || cfg.JWTIssuer != "fleetdesk" || cfg.NATSURL != "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DefaultTenantID != "" {
		t.Fatalf("expected dynamic tenancy by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetdesk.yaml")
	yaml := "server_port: 9090\nlog_level: debug\ndefault_tenant_id: legacy-store\nredis_url: redis://file:6379\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FLEETDESK_CONFIG", path)
	t.Setenv("REDIS_URL", "redis://env:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 9090 || cfg.LogLevel != "debug" || cfg.DefaultTenantID != "legacy-store" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.RedisURL != "redis://env:6379" {
		t.Fatalf("expected env to override file, got %s", cfg.RedisURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("FLEETDESK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	t.Setenv("SERVER_PORT", "abc")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid port error")
	}
	t.Setenv("SERVER_PORT", "8080")

	t.Setenv("DEFAULT_MEMBER_ROLE", "root")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid role error")
	}
	t.Setenv("DEFAULT_MEMBER_ROLE", "driver")

	t.Setenv("ENVIRONMENT", "production")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing JWT_SECRET to fail in production")
	}
	t.Setenv("JWT_SECRET", "prod-secret")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseCSVEnv(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	got := parseCSVEnv("CORS_ALLOWED_ORIGINS", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", got)
	}
}
