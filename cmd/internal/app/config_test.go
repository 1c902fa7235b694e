package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.Env != "development" || cfg.Production() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.DBAutoMigrate || !cfg.MetricsEnabled {
		t.Fatalf("expected auto-migrate and metrics on by default: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("shutdown timeout=%v", cfg.ShutdownTimeout)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COMMINQ_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("COMMINQ_HTTP_READ_TIMEOUT", "3s")
	t.Setenv("COMMINQ_DB_AUTO_MIGRATE", "false")
	t.Setenv("COMMINQ_CORS_ALLOWED_ORIGINS", "https://app.comminq.app,http://localhost:*")
	t.Setenv("COMMINQ_LOG_FORMAT", "pretty")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.ReadTimeout != 3*time.Second || cfg.DBAutoMigrate {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:*" {
		t.Fatalf("origins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		key, val string
	}{
		{"COMMINQ_HTTP_READ_TIMEOUT", "soon"},
		{"COMMINQ_DB_MAX_CONNS", "many"},
		{"COMMINQ_LOG_FORMAT", "xml"},
		{"COMMINQ_READINESS_REQUIRE_DB", "true"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfig(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("COMMINQ_ENV", "production")
	t.Setenv("COMMINQ_HTTP_ADDR", "")
	// godotenv never overrides variables already set, even when empty.
	if err := os.Unsetenv("COMMINQ_HTTP_ADDR"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.production"), []byte("COMMINQ_HTTP_ADDR=0.0.0.0:7000\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("COMMINQ_HTTP_ADDR") })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Production() || cfg.HTTPAddr != "0.0.0.0:7000" {
		t.Fatalf("dotenv not applied: %+v", cfg)
	}
}
