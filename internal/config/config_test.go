package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/config"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("KAI_DB_PATH", "")
	t.Setenv("KAI_LOG_LEVEL", "")
	t.Setenv("KAI_HTTP_ADDR", "")
	t.Setenv("KAI_CANDIDATE_TIMEOUT", "")
	t.Setenv("KAI_REPAIR_SCHEDULE", "")
	t.Setenv("KAI_CORS_ORIGINS", "")

	cfg := config.FromEnv(nil)
	if cfg.LogLevel != "info" || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CandidateTimeout != 2*time.Second {
		t.Fatalf("expected 2s candidate timeout, got %s", cfg.CandidateTimeout)
	}
	if cfg.RepairSchedule != "0 3 * * *" {
		t.Fatalf("unexpected repair schedule %q", cfg.RepairSchedule)
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSOrigins)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KAI_DB_PATH", "/tmp/kai-test.db")
	t.Setenv("KAI_CANDIDATE_TIMEOUT", "750ms")
	t.Setenv("KAI_CORS_ORIGINS", "http://localhost:3000, https://app.example.com ,")

	cfg := config.FromEnv(nil)
	if cfg.DBPath != "/tmp/kai-test.db" {
		t.Fatalf("expected db path override, got %q", cfg.DBPath)
	}
	if cfg.CandidateTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %s", cfg.CandidateTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://app.example.com" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestFromEnvInvalidTimeoutFallsBack(t *testing.T) {
	t.Setenv("KAI_CANDIDATE_TIMEOUT", "soon")
	cfg := config.FromEnv(nil)
	if cfg.CandidateTimeout != 2*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.CandidateTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("KAI_TEST_DOTENV_VALUE=loaded\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("KAI_TEST_DOTENV_VALUE", "")
	os.Unsetenv("KAI_TEST_DOTENV_VALUE")
	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("KAI_TEST_DOTENV_VALUE"); got != "loaded" {
		t.Fatalf("expected loaded value, got %q", got)
	}
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
