// Package models defines the entity types shared across the tutor backend.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FileType classifies an uploaded file.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeDocument FileType = "document"
)

// SessionTypeGeneral is the only session type currently supported.
const SessionTypeGeneral = "general"

// User is a registered student. Registration and password handling live in a
// separate service; the chat backend only reads the row and writes back the
// continuously adjusted effective levels and the continuity embedding.
type User struct {
	ID          uuid.UUID
	Email       string
	DisplayName string

	// Self-reported levels, integers 1-5.
	ProgrammingLevel int
	MathsLevel       int

	// Effective levels, fractional 1.0-5.0, adjusted by the pedagogy
	// engine. Nil until the first adjustment.
	EffectiveProgrammingLevel *float64
	EffectiveMathsLevel       *float64

	// Last combined embedding of a turn, used for continuity detection.
	LastEmbedding   []float64
	LastEmbeddingAt *time.Time

	CreatedAt time.Time
}

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	SessionType string
	CreatedAt   time.Time
}

// ChatMessage is a single user or assistant turn. Immutable after insert.
type ChatMessage struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      Role
	Content   string

	HintLevelUsed     *int
	ProblemDifficulty *int
	MathsDifficulty   *int
	InputTokens       *int
	OutputTokens      *int

	AttachmentIDs []uuid.UUID
	CreatedAt     time.Time
}

// DailyTokenUsage tracks per-user token consumption for one calendar date.
// At most one row exists per (user, date).
type DailyTokenUsage struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Date             time.Time
	InputTokensUsed  int
	OutputTokensUsed int
}

// UploadedFile is an attachment stored on disk, referenced by chat messages
// until it expires.
type UploadedFile struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	OriginalFilename string
	StoredFilename   string
	ContentType      string
	FileType         FileType
	SizeBytes        int64
	StoragePath      string

	// ExtractedText holds the plain text of document uploads; nil for images.
	ExtractedText *string

	ExpiresAt time.Time
	CreatedAt time.Time
}
