package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LINGOMATE_STORE", "")
	t.Setenv("LINGOMATE_PORT", "")
	t.Setenv("JWT_SECRET_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 5001 || cfg.Store != StorePostgres {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SessionTTL != 7*24*time.Hour || cfg.AuthRateLimit != 20 {
		t.Fatalf("unexpected session defaults: %+v", cfg)
	}
	if cfg.IsProduction() {
		t.Fatal("expected development environment by default")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected jwt secret from environment got %q", cfg.JWTSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LINGOMATE_ENV", "production")
	t.Setenv("LINGOMATE_STORE", "mongo")
	t.Setenv("LINGOMATE_PORT", "not-a-number")
	t.Setenv("LINGOMATE_SESSION_TTL", "1h")
	t.Setenv("STREAM_API_KEY", "key")
	t.Setenv("STREAM_API_SECRET", "")
	t.Setenv("LINGOMATE_AVATAR_BUCKET", "avatars")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() || cfg.Store != StoreMongo {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.AppPort != 5001 {
		t.Fatalf("expected fallback port for invalid value got %d", cfg.AppPort)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("expected 1h ttl got %v", cfg.SessionTTL)
	}
	if cfg.Stream.Configured() {
		t.Fatal("expected stream to be unconfigured without a secret")
	}
	if !cfg.Avatars.Enabled() {
		t.Fatal("expected avatar uploads to be enabled")
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("LINGOMATE_STORE", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported store")
	}
}
