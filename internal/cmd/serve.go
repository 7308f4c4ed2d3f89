package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/baobabted/AI-Coding-Tutor/internal/config"
	"github.com/baobabted/AI-Coding-Tutor/internal/embedding"
	"github.com/baobabted/AI-Coding-Tutor/internal/history"
	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	_ "github.com/baobabted/AI-Coding-Tutor/internal/llm/allproviders"
	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/pedagogy"
	"github.com/baobabted/AI-Coding-Tutor/internal/service/chat"
	"github.com/baobabted/AI-Coding-Tutor/internal/service/frontend"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
	"github.com/baobabted/AI-Coding-Tutor/internal/upload"
)

func CmdServe() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Start the chat backend server",
		Long: `Start the tutoring backend: the REST API for sessions, usage, and
uploads, plus the /ws/chat websocket that streams tutor responses.

Configuration comes from an optional YAML file and TUTOR_-prefixed
environment variables; a .env file in the working directory is loaded
first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the configuration file")
	return cmd
}

func runServe(ctx context.Context, configFile string) error {
	// Best effort; absent .env files are the normal case in production.
	_ = godotenv.Load()

	var loaderOpts []config.LoaderOption
	if configFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(configFile))
	}
	cfg, err := config.NewLoader(loaderOpts...).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, err = setupLogging(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := store.New(ctx, cfg.Database.URL, store.DailyLimits{
		InputTokens:  cfg.Quota.DailyInputTokenLimit,
		OutputTokens: cfg.Quota.DailyOutputTokenLimit,
	})
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer st.Close()

	if err := st.Setup(ctx); err != nil {
		return fmt.Errorf("initialise schema: %w", err)
	}

	providerType, err := llm.ParseProviderType(cfg.LLM.Provider)
	if err != nil {
		return err
	}
	provider, err := llm.NewFromCredentials(providerType, llm.Credentials{
		Anthropic: cfg.LLM.AnthropicAPIKey,
		OpenAI:    cfg.LLM.OpenAIAPIKey,
		Google:    cfg.LLM.GoogleAPIKey,
	}, llmOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("initialise LLM provider: %w", err)
	}
	logger.Info(ctx, "LLM provider ready", "provider", provider.Name())

	// One-token probe so a bad key surfaces at startup, not mid-turn.
	if err := llm.VerifyKey(ctx, provider, ""); err != nil {
		logger.Warn(ctx, "LLM credential verification failed", "err", err)
	}

	// The tutor degrades gracefully without embeddings: continuation
	// detection is skipped, everything else works.
	var embedder chat.Embedder
	embedSvc, err := embedding.New(embedding.ProviderType(cfg.Embedding.Provider), embedding.Credentials{
		Cohere: cfg.Embedding.CohereAPIKey,
		Voyage: cfg.Embedding.VoyageAPIKey,
	})
	switch {
	case err == nil:
		embedder = embedSvc
		logger.Info(ctx, "Embedding provider ready", "provider", embedSvc.Name())
	default:
		logger.Warn(ctx, "Embeddings disabled", "err", err)
	}

	uploads := upload.NewService(st, cfg.Upload.StorageDir, upload.Limits{
		MaxImages:         cfg.Upload.MaxImagesPerMessage,
		MaxDocuments:      cfg.Upload.MaxDocumentsPerMessage,
		MaxImageBytes:     int64(cfg.Upload.MaxImageMB) << 20,
		MaxDocumentBytes:  int64(cfg.Upload.MaxDocumentMB) << 20,
		MaxDocumentTokens: cfg.Upload.MaxDocumentTokens,
	}, time.Duration(cfg.Upload.ExpiryHours)*time.Hour)

	engine := pedagogy.NewEngine(provider, embedder, cfg.Pedagogy.DriftStep)
	builder := history.NewBuilder(provider, cfg.LLM.MaxContextTokens, cfg.LLM.ContextCompressionThreshold)

	chatSvc := chat.NewService(chat.WrapStore(st), provider, embedder, engine, uploads, builder, chat.Config{
		MaxUserInputTokens: cfg.LLM.MaxUserInputTokens,
		MaxImages:          cfg.Upload.MaxImagesPerMessage,
		MaxDocuments:       cfg.Upload.MaxDocumentsPerMessage,
	})

	server := frontend.NewServer(cfg, st, uploads, chatSvc)
	return server.Serve(ctx)
}

// llmOptions translates the LLM configuration into provider options. Model
// and base URL fall back to the selected provider's defaults when unset.
func llmOptions(cfg *config.Config) []llm.Option {
	opts := []llm.Option{
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithMaxRetries(cfg.LLM.MaxRetries),
	}
	if cfg.LLM.Model != "" {
		opts = append(opts, llm.WithModel(cfg.LLM.Model))
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	return opts
}

// setupLogging builds the process logger from configuration and attaches it
// to the context.
func setupLogging(ctx context.Context, cfg *config.Config) (context.Context, error) {
	var opts []logger.Option
	if cfg.Log.Level == "debug" {
		opts = append(opts, logger.WithDebug())
	}
	opts = append(opts, logger.WithFormat(cfg.Log.Format))

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return ctx, fmt.Errorf("open log file: %w", err)
		}
		opts = append(opts, logger.WithWriter(f))
	}

	return logger.WithLogger(ctx, logger.NewLogger(opts...)), nil
}
