package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaultsToMemoryBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JOB_STORE", "")
	t.Setenv("QUOTA_BACKEND", "")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobStore != "memory" || cfg.QuotaBackend != "memory" {
		t.Fatalf("backends = %q/%q, want memory/memory", cfg.JobStore, cfg.QuotaBackend)
	}
	expected := "http://localhost:8080/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("RetryMaxAttempts = %d, want 3", cfg.RetryMaxAttempts)
	}
	if cfg.UsesPostgres() {
		t.Fatalf("memory configuration should not need postgres")
	}
}

func TestLoadConfigDatabaseSwitchesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JOB_STORE", "")
	t.Setenv("QUOTA_BACKEND", "")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobStore != "postgres" || cfg.QuotaBackend != "postgres" {
		t.Fatalf("backends = %q/%q, want postgres/postgres", cfg.JobStore, cfg.QuotaBackend)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigParsesDurationsAndFloats(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("BREAKER_FAILURE_RATE", "0.25")
	t.Setenv("STAGE_DEADLINE", "not-a-duration")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Fatalf("RetryBaseDelay = %s", cfg.RetryBaseDelay)
	}
	if cfg.BreakerFailRate != 0.25 {
		t.Fatalf("BreakerFailRate = %v", cfg.BreakerFailRate)
	}
	if cfg.StageDeadline != 3*time.Minute {
		t.Fatalf("StageDeadline should fall back to default, got %s", cfg.StageDeadline)
	}
}

func TestLoadConfigRejectsInvalidBackends(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres job store without dsn", env: map[string]string{"JOB_STORE": "postgres"}},
		{name: "redis quota without url", env: map[string]string{"QUOTA_BACKEND": "redis"}},
		{name: "s3 without bucket", env: map[string]string{"STORAGE_BACKEND": "s3"}},
		{name: "unknown dedupe scope", env: map[string]string{"DEDUPE_SCOPE": "household"}},
		{name: "failure rate above one", env: map[string]string{"BREAKER_FAILURE_RATE": "1.5"}},
		{name: "failure rate of one never trips", env: map[string]string{"BREAKER_FAILURE_RATE": "1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("REDIS_URL", "")
			t.Setenv("S3_BUCKET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigHealingAndCORS(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HEALING_REGENERATE", "false")
	t.Setenv("CORS_ORIGINS", "https://app.mealgen.test, https://admin.mealgen.test,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HealingRegenerate {
		t.Fatalf("HealingRegenerate should be disabled")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.mealgen.test" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}
