package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CACHE_BACKEND", "PIPELINE_FAIL_FAST", "RUN_TIMEOUT", "OLLAMA_RATE_PER_SEC", "PIPELINE_MANIFEST"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.CacheBackend != CacheBackendLocalFS {
		t.Fatalf("expected default cache backend localfs, got %q", cfg.CacheBackend)
	}
	if cfg.PipelineFailFast != nil {
		t.Fatalf("fail fast override must be unset by default")
	}
	if cfg.RunTimeout != 15*time.Minute {
		t.Fatalf("expected default run timeout 15m, got %s", cfg.RunTimeout)
	}
	if cfg.OllamaRatePerSec != 2 {
		t.Fatalf("expected default rate 2, got %v", cfg.OllamaRatePerSec)
	}
	if cfg.PipelineManifest != "" {
		t.Fatalf("expected embedded manifest by default, got %q", cfg.PipelineManifest)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "postgres")
	t.Setenv("PIPELINE_FAIL_FAST", "true")
	t.Setenv("RUN_TIMEOUT", "90s")
	t.Setenv("OLLAMA_TIMEOUT", "not-a-duration")
	t.Setenv("OLLAMA_RATE_PER_SEC", "0.5")
	t.Setenv("PIPELINE_MAX_PARALLEL", "8")

	cfg := Load()
	if cfg.CacheBackend != CacheBackendPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.CacheBackend)
	}
	if cfg.PipelineFailFast == nil || !*cfg.PipelineFailFast {
		t.Fatalf("expected fail fast override true")
	}
	if cfg.RunTimeout != 90*time.Second {
		t.Fatalf("expected run timeout 90s, got %s", cfg.RunTimeout)
	}
	if cfg.OllamaTimeout != 120*time.Second {
		t.Fatalf("invalid duration must fall back, got %s", cfg.OllamaTimeout)
	}
	if cfg.OllamaRatePerSec != 0.5 || cfg.PipelineMaxParallel != 8 {
		t.Fatalf("unexpected numeric overrides %+v", cfg)
	}
}
