package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the voice email agent.
// Environment variables are parsed from the VOCALMAIL_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP admin surface
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Message store
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/emails.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Semantic index
	SearchIndexURL string  `envconfig:"SEARCH_INDEX_URL" default:"localhost:8081"`
	SearchAlpha    float32 `envconfig:"SEARCH_ALPHA" default:"0.6"`

	// Embeddings
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	EmbedMaxChars int    `envconfig:"EMBED_MAX_CHARS" default:"8000"`

	// Mail provider (fetch + production send)
	ProviderBaseURL string `envconfig:"PROVIDER_BASE_URL" default:"https://api.us.nylas.com/v3"`
	ProviderAPIKey  string `envconfig:"PROVIDER_API_KEY" default:""`
	ProviderGrantID string `envconfig:"PROVIDER_GRANT_ID" default:""`

	// Outbound send selection: "sink" (local test sink) or "provider"
	EmailMode string `envconfig:"EMAIL_MODE" default:"sink"`

	// Ingest
	IngestMaxMessages     int `envconfig:"INGEST_MAX_MESSAGES" default:"200"`
	IngestPageSize        int `envconfig:"INGEST_PAGE_SIZE" default:"50"`
	IngestIntervalSeconds int `envconfig:"INGEST_INTERVAL_SECONDS" default:"0"`

	// Reasoning service
	ReasonerBaseURL string `envconfig:"REASONER_BASE_URL" default:"https://api.openai.com/v1"`
	ReasonerAPIKey  string `envconfig:"REASONER_API_KEY" default:""`
	ReasonerModel   string `envconfig:"REASONER_MODEL" default:"gpt-4o"`
	MaxToolRounds   int    `envconfig:"MAX_TOOL_ROUNDS" default:"4"`

	// Speech duplex stream
	SpeechURL    string `envconfig:"SPEECH_URL" default:"ws://localhost:7071/stream"`
	SpeechAPIKey string `envconfig:"SPEECH_API_KEY" default:""`
	SpeechVoice  string `envconfig:"SPEECH_VOICE" default:"alice"`

	// Health / bootstrap
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"10"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
	BootstrapTimeoutSeconds   int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"30"`
}

// ResolveDefaults validates driver and mode selections.
func (c *Config) ResolveDefaults() error {
	allowedDB := map[string]bool{"sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
	}
	switch c.EmailMode {
	case "sink", "provider":
	default:
		return fmt.Errorf("unsupported EMAIL_MODE: %s", c.EmailMode)
	}
	if c.SearchAlpha < 0.0 || c.SearchAlpha > 1.0 {
		return fmt.Errorf("SEARCH_ALPHA must be in [0.0, 1.0], got %f", c.SearchAlpha)
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 4
	}
	if c.EmbedMaxChars <= 0 {
		c.EmbedMaxChars = 8000
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Example: VOCALMAIL_DB_DRIVER, VOCALMAIL_SEARCH_INDEX_URL.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("VOCALMAIL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("search_index_url", cfg.SearchIndexURL).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Str("email_mode", cfg.EmailMode).
		Int("ingest_max_messages", cfg.IngestMaxMessages).
		Int("ingest_page_size", cfg.IngestPageSize).
		Int("port", cfg.HTTPPort).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	cfg := &Config{
		Environment:    EnvTesting,
		HTTPPort:       8080,
		DBDriver:       "sqlite",
		SQLitePath:     ":memory:",
		SearchIndexURL: "localhost:8082",
		SearchAlpha:    0.6,
		EmbedProvider:  "ollama",
		EmbedModel:     "mxbai-embed-large",
		EmbedMaxChars:  8000,
		EmailMode:      "sink",

		IngestMaxMessages: 10,
		IngestPageSize:    5,

		ReasonerModel: "gpt-4o",
		MaxToolRounds: 4,

		HealthIntervalSeconds:     10,
		HealthProbeTimeoutSeconds: 2,
		BootstrapTimeoutSeconds:   30,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
