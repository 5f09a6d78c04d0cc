package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config contains all runtime settings for the SafeMind intake service.
type Config struct {
	BindAddr                 string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout          time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SessionInactivityTimeout time.Duration `env:"APP_SESSION_INACTIVITY_TIMEOUT" envDefault:"30m"`
	MetricsNamespace         string        `env:"APP_METRICS_NAMESPACE" envDefault:"safemind"`
	AllowAnyOrigin           bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// Reasoning service
	ReasoningMode    string        `env:"REASONING_MODE" envDefault:"auto"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY"`
	GeminiModel      string        `env:"GEMINI_MODEL" envDefault:"gemini-1.5-pro"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	ReasoningHTTPURL string        `env:"REASONING_HTTP_URL"`
	TriageWindow     int           `env:"TRIAGE_WINDOW_TURNS" envDefault:"6"`
	TriageTimeout    time.Duration `env:"TRIAGE_TIMEOUT" envDefault:"30s"`

	// Location
	GeocoderURL       string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org/reverse"`
	GeocoderUserAgent string        `env:"GEOCODER_USER_AGENT" envDefault:"safemind-intake/1.0"`
	GeocodeTimeout    time.Duration `env:"GEOCODE_TIMEOUT" envDefault:"5s"`

	// Submission
	AnchorTimeout     time.Duration `env:"ANCHOR_TIMEOUT" envDefault:"20s"`
	AnchorMaxAttempts int           `env:"ANCHOR_MAX_ATTEMPTS" envDefault:"5"`
	SignerSeedHex     string        `env:"SIGNER_SEED_HEX"`

	// Storage
	DatabaseURL string `env:"DATABASE_URL"`

	EscalationDirectoryPath string `env:"ESCALATION_DIRECTORY_PATH"`
}

// Load reads environment variables, applies defaults and validates ranges.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.trim()

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.TriageWindow < 1 || cfg.TriageWindow > 32 {
		return Config{}, fmt.Errorf("TRIAGE_WINDOW_TURNS must be between 1 and 32")
	}
	if cfg.TriageTimeout <= 0 {
		return Config{}, fmt.Errorf("TRIAGE_TIMEOUT must be positive")
	}
	if cfg.GeocodeTimeout <= 0 {
		return Config{}, fmt.Errorf("GEOCODE_TIMEOUT must be positive")
	}
	if cfg.AnchorTimeout <= 0 {
		return Config{}, fmt.Errorf("ANCHOR_TIMEOUT must be positive")
	}
	if cfg.AnchorMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("ANCHOR_MAX_ATTEMPTS must be positive")
	}
	switch strings.ToLower(cfg.ReasoningMode) {
	case "auto", "gemini", "openai", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid REASONING_MODE: %q (expected auto|gemini|openai|http|mock)", cfg.ReasoningMode)
	}
	if seed := cfg.SignerSeedHex; seed != "" && len(seed) != 64 {
		return Config{}, fmt.Errorf("SIGNER_SEED_HEX must be 64 hex characters")
	}

	return cfg, nil
}

func (c *Config) trim() {
	for _, p := range []*string{
		&c.BindAddr,
		&c.MetricsNamespace,
		&c.ReasoningMode,
		&c.GeminiAPIKey,
		&c.GeminiModel,
		&c.OpenAIAPIKey,
		&c.OpenAIBaseURL,
		&c.OpenAIModel,
		&c.ReasoningHTTPURL,
		&c.GeocoderURL,
		&c.GeocoderUserAgent,
		&c.SignerSeedHex,
		&c.DatabaseURL,
		&c.EscalationDirectoryPath,
	} {
		*p = strings.TrimSpace(*p)
	}
}
