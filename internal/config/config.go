// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.sage/config.yaml or ./config.yaml)
//  3. Default values
//
// Security: sensitive fields (API keys, database URL) are explicitly
// masked in MarshalJSON. When adding a new secret field, update
// MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the provider id is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidAddr indicates the server listen address is malformed.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidChunking indicates the chunk size/overlap pair is unusable.
	ErrInvalidChunking = errors.New("invalid chunking parameters")
)

// Provider identifiers used in Config.Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config stores application configuration.
type Config struct {
	// Provider chain, in fallback order.
	Providers []string `mapstructure:"providers" json:"providers"`

	// Credentials. SENSITIVE: masked in MarshalJSON.
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"`
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"`

	// Per-provider model overrides.
	GeminiModel   string `mapstructure:"gemini_model" json:"gemini_model"`
	OpenAIModel   string `mapstructure:"openai_model" json:"openai_model"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" json:"openai_base_url"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`
	OllamaModel   string `mapstructure:"ollama_model" json:"ollama_model"`

	// Generation defaults.
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Embedding configuration.
	EmbedProvider  string `mapstructure:"embed_provider" json:"embed_provider"`
	EmbedModel     string `mapstructure:"embed_model" json:"embed_model"`
	EmbedDimension int    `mapstructure:"embed_dimension" json:"embed_dimension"`

	// Index persistence.
	IndexPath   string `mapstructure:"index_path" json:"index_path"`
	IndexMetric string `mapstructure:"index_metric" json:"index_metric"` // "cosine" or "l2"

	// Ingestion.
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// History persistence. Empty disables the store; chat still works.
	// SENSITIVE: masked in MarshalJSON.
	DatabaseURL string `mapstructure:"database_url" json:"database_url"`

	// Web search. Empty disables the collaborator.
	SearXNGURL string `mapstructure:"searxng_url" json:"searxng_url"`

	// HTTP server (serve mode).
	ListenAddr     string        `mapstructure:"listen_addr" json:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`

	// Observability (serve mode). Empty endpoint disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`

	// Logging.
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".sage")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("providers", []string{ProviderGemini, ProviderOpenAI, ProviderOllama})

	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("ollama_model", "llama3.2")

	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 2048)

	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality (Matryoshka Representation
	// Learning); 768 keeps the index compact.
	v.SetDefault("embed_provider", ProviderGemini)
	v.SetDefault("embed_model", "gemini-embedding-001")
	v.SetDefault("embed_dimension", 768)

	v.SetDefault("index_path", filepath.Join(configDir, "index.sage"))
	v.SetDefault("index_metric", "cosine")

	v.SetDefault("chunk_size", 1200)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("request_timeout", 2*time.Minute)
	v.SetDefault("rate_limit_rps", 10.0)

	v.SetDefault("environment", "dev")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly. Secrets are
// env-only by default; everything else can also live in the config file.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("database_url", "DATABASE_URL")

	mustBind("searxng_url", "SAGE_SEARXNG_URL")
	mustBind("listen_addr", "SAGE_LISTEN_ADDR")
	mustBind("index_path", "SAGE_INDEX_PATH")
	mustBind("otlp_endpoint", "SAGE_OTLP_ENDPOINT")
	mustBind("environment", "SAGE_ENVIRONMENT")
	mustBind("log_level", "SAGE_LOG_LEVEL")
	mustBind("ollama_host", "SAGE_OLLAMA_HOST")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debug
// utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit secret masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.DatabaseURL = maskSecret(a.DatabaseURL)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
