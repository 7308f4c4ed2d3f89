// Package config loads and validates the service configuration from a YAML
// file and TUTOR_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server    Server
	Database  Database
	Auth      Auth
	LLM       LLM
	Embedding Embedding
	Quota     Quota
	Upload    Upload
	Pedagogy  Pedagogy
	Log       Log
}

type Server struct {
	Host        string
	Port        int
	CORSOrigins []string
}

func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Database struct {
	URL string
}

type Auth struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
}

type LLM struct {
	Provider        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	// Model and BaseURL override the provider's defaults when set.
	Model   string
	BaseURL string

	Timeout    time.Duration
	MaxRetries int

	MaxContextTokens            int
	MaxUserInputTokens          int
	ContextCompressionThreshold float64
}

// HasCredential reports whether at least one provider key is configured.
func (l LLM) HasCredential() bool {
	return l.AnthropicAPIKey != "" || l.OpenAIAPIKey != "" || l.GoogleAPIKey != ""
}

type Embedding struct {
	Provider     string
	CohereAPIKey string
	VoyageAPIKey string
}

type Quota struct {
	DailyInputTokenLimit  int
	DailyOutputTokenLimit int
}

type Upload struct {
	StorageDir             string
	ExpiryHours            int
	MaxImagesPerMessage    int
	MaxDocumentsPerMessage int
	MaxImageMB             int
	MaxDocumentMB          int
	MaxDocumentTokens      int
}

type Pedagogy struct {
	DriftStep float64
}

type Log struct {
	Level  string
	Format string
	File   string
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if !c.LLM.HasCredential() {
		errs = append(errs, errors.New("at least one LLM API key is required"))
	}
	if c.LLM.MaxContextTokens <= 0 {
		errs = append(errs, errors.New("llm.max_context_tokens must be positive"))
	}
	if c.LLM.ContextCompressionThreshold <= 0 || c.LLM.ContextCompressionThreshold > 1 {
		errs = append(errs, errors.New("llm.context_compression_threshold must be in (0, 1]"))
	}
	return errors.Join(errs...)
}
