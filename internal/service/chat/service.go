// Package chat runs the streaming tutoring pipeline: it receives student
// messages over a websocket, persists the conversation, consults the
// pedagogy engine, and streams the LLM response back token by token.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/baobabted/AI-Coding-Tutor/internal/history"
	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	"github.com/baobabted/AI-Coding-Tutor/internal/models"
	"github.com/baobabted/AI-Coding-Tutor/internal/pedagogy"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
)

// Store is the read surface the pipeline needs outside transactions.
type Store interface {
	CheckDailyLimit(ctx context.Context, userID uuid.UUID) (bool, error)
	GetChatHistory(ctx context.Context, sessionID uuid.UUID) ([]store.HistoryEntry, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx groups the writes of one pipeline step so they commit atomically.
type Tx interface {
	GetOrCreateSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.ChatSession, error)
	SaveMessage(ctx context.Context, p store.SaveMessageParams) (*models.ChatMessage, error)
	IncrementTokenUsage(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int) error
	UpdateEffectiveLevels(ctx context.Context, userID uuid.UUID, programming, maths float64) error
	UpdateLastEmbedding(ctx context.Context, userID uuid.UUID, embedding []float64, at time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// Embedder produces the embeddings used for continuity detection.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
	EmbedImage(ctx context.Context, data []byte, mediaType string) ([]float64, error)
}

// Uploads resolves attachment references to stored files.
type Uploads interface {
	GetUserUploadsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.UploadedFile, error)
}

// Config carries the per-message limits the pipeline enforces.
type Config struct {
	MaxUserInputTokens int
	MaxImages          int
	MaxDocuments       int
}

// Service wires the pipeline dependencies. One Service handles all
// connections; per-connection state lives in Session.
type Service struct {
	store    Store
	provider llm.Provider
	embedder Embedder
	engine   *pedagogy.Engine
	uploads  Uploads
	builder  *history.Builder
	cfg      Config
}

// NewService creates the chat pipeline service.
func NewService(st Store, p llm.Provider, embedder Embedder, engine *pedagogy.Engine, uploads Uploads, builder *history.Builder, cfg Config) *Service {
	return &Service{
		store:    st,
		provider: p,
		embedder: embedder,
		engine:   engine,
		uploads:  uploads,
		builder:  builder,
		cfg:      cfg,
	}
}

// sqlStore adapts *store.Store to the pipeline's Store interface, narrowing
// Begin's return type.
type sqlStore struct {
	*store.Store
}

func (s sqlStore) Begin(ctx context.Context) (Tx, error) {
	return s.Store.Begin(ctx)
}

// WrapStore adapts the Postgres store for the pipeline.
func WrapStore(s *store.Store) Store {
	return sqlStore{s}
}
