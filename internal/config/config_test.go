package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/nexdash_test")
	t.Setenv("SHARE_LINK_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("redis = %q", cfg.RedisAddr)
	}
	if cfg.Engine.CacheTTL != 5*time.Minute {
		t.Errorf("engine cache ttl = %v", cfg.Engine.CacheTTL)
	}
	if cfg.HasSMTP() {
		t.Error("smtp should be off by default")
	}
	if cfg.HasEngineAuth() {
		t.Error("engine auth should be off by default")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	// t.Setenv registers the restore; the vars must actually be absent for
	// the required check to trip.
	for _, k := range []string{"DATABASE_URL", "SHARE_LINK_SECRET"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing required settings")
	}
}

func TestLoadEnginePrefix(t *testing.T) {
	setRequired(t)
	t.Setenv("ENGINE_BASE_URL", "https://engine.test")
	t.Setenv("ENGINE_CLIENT_ID", "id")
	t.Setenv("ENGINE_CLIENT_SECRET", "secret")
	t.Setenv("ENGINE_TOKEN_URL", "https://auth.test/token")
	t.Setenv("ENGINE_CACHE_TTL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.BaseURL != "https://engine.test" {
		t.Errorf("engine base url = %q", cfg.Engine.BaseURL)
	}
	if cfg.Engine.CacheTTL != 30*time.Second {
		t.Errorf("cache ttl = %v", cfg.Engine.CacheTTL)
	}
	if !cfg.HasEngineAuth() {
		t.Error("engine auth should be detected")
	}
}

func TestLoadRejectsPartialEngineAuth(t *testing.T) {
	setRequired(t)
	t.Setenv("ENGINE_CLIENT_ID", "id")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for half-configured engine auth")
	}
}

func TestHasSMTP(t *testing.T) {
	setRequired(t)
	t.Setenv("SMTP_ADDR", "mail.test:587")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.HasSMTP() {
		t.Error("smtp should be detected")
	}
}
