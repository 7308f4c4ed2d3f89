package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv provides the minimum settings Load needs to succeed.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TUTOR_AUTH_JWT_SECRET", "secret")
	t.Setenv("TUTOR_DATABASE_URL", "postgres://localhost/tutor")
	t.Setenv("TUTOR_LLM_ANTHROPIC_API_KEY", "sk-test")
}

func TestLoad(t *testing.T) {
	t.Run("DefaultsApplied", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := NewLoader().Load()
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
		assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, 2, cfg.LLM.MaxRetries)
		assert.Empty(t, cfg.LLM.Model)
		assert.Equal(t, 10000, cfg.LLM.MaxContextTokens)
		assert.InDelta(t, 0.6, cfg.LLM.ContextCompressionThreshold, 1e-9)
		assert.Equal(t, 24, cfg.Upload.ExpiryHours)
		assert.InDelta(t, 0.05, cfg.Pedagogy.DriftStep, 1e-9)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TUTOR_SERVER_PORT", "9000")
		t.Setenv("TUTOR_LLM_PROVIDER", "openai")
		t.Setenv("TUTOR_LLM_MODEL", "gpt-4o")
		t.Setenv("TUTOR_LLM_TIMEOUT", "90s")
		t.Setenv("TUTOR_QUOTA_DAILY_INPUT_TOKEN_LIMIT", "1234")

		cfg, err := NewLoader().Load()
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
		assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, 1234, cfg.Quota.DailyInputTokenLimit)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		setRequiredEnv(t)

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8123
llm:
  max_context_tokens: 5000
`), 0600))

		cfg, err := NewLoader(WithConfigFile(path)).Load()
		require.NoError(t, err)
		assert.Equal(t, 8123, cfg.Server.Port)
		assert.Equal(t, 5000, cfg.LLM.MaxContextTokens)
	})

	t.Run("MissingSecretRejected", func(t *testing.T) {
		t.Setenv("TUTOR_AUTH_JWT_SECRET", "")
		t.Setenv("TUTOR_DATABASE_URL", "postgres://localhost/tutor")
		t.Setenv("TUTOR_LLM_ANTHROPIC_API_KEY", "sk-test")

		_, err := NewLoader().Load()
		assert.ErrorContains(t, err, "auth.jwt_secret")
	})

	t.Run("MissingLLMCredentialRejected", func(t *testing.T) {
		t.Setenv("TUTOR_AUTH_JWT_SECRET", "secret")
		t.Setenv("TUTOR_DATABASE_URL", "postgres://localhost/tutor")

		_, err := NewLoader().Load()
		assert.ErrorContains(t, err, "LLM API key")
	})
}

func TestHasCredential(t *testing.T) {
	t.Parallel()

	assert.False(t, LLM{}.HasCredential())
	assert.True(t, LLM{GoogleAPIKey: "k"}.HasCredential())
}
