package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ReasoningMode != "auto" {
		t.Fatalf("ReasoningMode = %q, want %q", cfg.ReasoningMode, "auto")
	}
	if cfg.TriageWindow != 6 {
		t.Fatalf("TriageWindow = %d, want 6", cfg.TriageWindow)
	}
	if cfg.GeocodeTimeout != 5*time.Second {
		t.Fatalf("GeocodeTimeout = %v, want 5s", cfg.GeocodeTimeout)
	}
	if cfg.GeminiModel != "gemini-1.5-pro" {
		t.Fatalf("GeminiModel = %q, want %q", cfg.GeminiModel, "gemini-1.5-pro")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadUsesExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("REASONING_MODE", "mock")
	t.Setenv("TRIAGE_WINDOW_TURNS", "10")
	t.Setenv("REASONING_HTTP_URL", "  http://localhost:7777/triage ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.TriageWindow != 10 {
		t.Fatalf("TriageWindow = %d, want 10", cfg.TriageWindow)
	}
	if cfg.ReasoningHTTPURL != "http://localhost:7777/triage" {
		t.Fatalf("ReasoningHTTPURL = %q, want trimmed value", cfg.ReasoningHTTPURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"TRIAGE_WINDOW_TURNS":            "0",
		"ANCHOR_MAX_ATTEMPTS":            "0",
		"REASONING_MODE":                 "telepathy",
		"SIGNER_SEED_HEX":                "abcd",
		"TRIAGE_TIMEOUT":                 "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%q", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_DEVELOPMENT",
		"REASONING_MODE",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"REASONING_HTTP_URL",
		"TRIAGE_WINDOW_TURNS",
		"TRIAGE_TIMEOUT",
		"GEOCODER_URL",
		"GEOCODER_USER_AGENT",
		"GEOCODE_TIMEOUT",
		"ANCHOR_TIMEOUT",
		"ANCHOR_MAX_ATTEMPTS",
		"SIGNER_SEED_HEX",
		"DATABASE_URL",
		"ESCALATION_DIRECTORY_PATH",
	}
	for _, key := range keys {
		// Blank values override envDefault, so the keys are unset entirely.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Unsetenv(%s) error = %v", key, err)
		}
	}
}
