package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LLM__FAST__ENDPOINT", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.LLMFastEndpoint != "" {
		t.Fatalf("expected default fast LLM endpoint empty, got %s", cfg.LLMFastEndpoint)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected default worker count 4, got %d", cfg.WorkerCount)
	}
	if cfg.CallsTable != "voicecore_calls" {
		t.Fatalf("expected default calls table, got %s", cfg.CallsTable)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("LLM__FAST__ENDPOINT", "https://bedrock.example.com")
	t.Setenv("LLM__SLOW__MODEL_ID", "gemini-1.5-pro-002")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("USE_MEMORY_QUEUE", "true")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.LLMFastEndpoint != "https://bedrock.example.com" {
		t.Fatalf("expected LLM fast endpoint override, got %s", cfg.LLMFastEndpoint)
	}
	if cfg.LLMSlowModelID != "gemini-1.5-pro-002" {
		t.Fatalf("expected LLM slow model override, got %s", cfg.LLMSlowModelID)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker count override, got %d", cfg.WorkerCount)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue override enabled")
	}
}
