package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loader reads configuration from an optional YAML file plus environment
// variables prefixed with TUTOR_ (dots become underscores, e.g.
// TUTOR_LLM_ANTHROPIC_API_KEY).
type Loader struct {
	v          *viper.Viper
	configFile string
}

type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(configFile string) LoaderOption {
	return func(l *Loader) {
		l.configFile = configFile
	}
}

func NewLoader(options ...LoaderOption) *Loader {
	loader := &Loader{v: viper.New()}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration, applies defaults and environment overrides,
// and validates the result.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix("TUTOR")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := l.build()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8000)
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})

	l.v.SetDefault("auth.access_token_ttl", "30m")

	l.v.SetDefault("llm.provider", "anthropic")
	l.v.SetDefault("llm.timeout", "60s")
	l.v.SetDefault("llm.max_retries", 2)
	l.v.SetDefault("llm.max_context_tokens", 10000)
	l.v.SetDefault("llm.max_user_input_tokens", 2000)
	l.v.SetDefault("llm.context_compression_threshold", 0.6)

	l.v.SetDefault("embedding.provider", "cohere")

	l.v.SetDefault("quota.daily_input_token_limit", 100000)
	l.v.SetDefault("quota.daily_output_token_limit", 50000)

	l.v.SetDefault("upload.storage_dir", "./uploads")
	l.v.SetDefault("upload.expiry_hours", 24)
	l.v.SetDefault("upload.max_images_per_message", 3)
	l.v.SetDefault("upload.max_documents_per_message", 2)
	l.v.SetDefault("upload.max_image_mb", 5)
	l.v.SetDefault("upload.max_document_mb", 10)
	l.v.SetDefault("upload.max_document_tokens", 8000)

	l.v.SetDefault("pedagogy.drift_step", 0.05)

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")
}

func (l *Loader) build() *Config {
	ttl, err := time.ParseDuration(l.v.GetString("auth.access_token_ttl"))
	if err != nil {
		ttl = 30 * time.Minute
	}
	llmTimeout, err := time.ParseDuration(l.v.GetString("llm.timeout"))
	if err != nil {
		llmTimeout = 60 * time.Second
	}

	return &Config{
		Server: Server{
			Host:        l.v.GetString("server.host"),
			Port:        l.v.GetInt("server.port"),
			CORSOrigins: l.v.GetStringSlice("server.cors_origins"),
		},
		Database: Database{
			URL: l.v.GetString("database.url"),
		},
		Auth: Auth{
			JWTSecret:      l.v.GetString("auth.jwt_secret"),
			AccessTokenTTL: ttl,
		},
		LLM: LLM{
			Provider:                    l.v.GetString("llm.provider"),
			AnthropicAPIKey:             l.v.GetString("llm.anthropic_api_key"),
			OpenAIAPIKey:                l.v.GetString("llm.openai_api_key"),
			GoogleAPIKey:                l.v.GetString("llm.google_api_key"),
			Model:                       l.v.GetString("llm.model"),
			BaseURL:                     l.v.GetString("llm.base_url"),
			Timeout:                     llmTimeout,
			MaxRetries:                  l.v.GetInt("llm.max_retries"),
			MaxContextTokens:            l.v.GetInt("llm.max_context_tokens"),
			MaxUserInputTokens:          l.v.GetInt("llm.max_user_input_tokens"),
			ContextCompressionThreshold: l.v.GetFloat64("llm.context_compression_threshold"),
		},
		Embedding: Embedding{
			Provider:     l.v.GetString("embedding.provider"),
			CohereAPIKey: l.v.GetString("embedding.cohere_api_key"),
			VoyageAPIKey: l.v.GetString("embedding.voyage_api_key"),
		},
		Quota: Quota{
			DailyInputTokenLimit:  l.v.GetInt("quota.daily_input_token_limit"),
			DailyOutputTokenLimit: l.v.GetInt("quota.daily_output_token_limit"),
		},
		Upload: Upload{
			StorageDir:             l.v.GetString("upload.storage_dir"),
			ExpiryHours:            l.v.GetInt("upload.expiry_hours"),
			MaxImagesPerMessage:    l.v.GetInt("upload.max_images_per_message"),
			MaxDocumentsPerMessage: l.v.GetInt("upload.max_documents_per_message"),
			MaxImageMB:             l.v.GetInt("upload.max_image_mb"),
			MaxDocumentMB:          l.v.GetInt("upload.max_document_mb"),
			MaxDocumentTokens:      l.v.GetInt("upload.max_document_tokens"),
		},
		Pedagogy: Pedagogy{
			DriftStep: l.v.GetFloat64("pedagogy.drift_step"),
		},
		Log: Log{
			Level:  l.v.GetString("log.level"),
			Format: l.v.GetString("log.format"),
			File:   l.v.GetString("log.file"),
		},
	}
}
