package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/baobabted/AI-Coding-Tutor/internal/models"
)

// HistoryEntry is one stored turn, the slice of a message the context
// builder needs.
type HistoryEntry struct {
	Role    models.Role
	Content string
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID           uuid.UUID
	FirstMessage string
	CreatedAt    time.Time
}

// SaveMessageParams carries the optional per-message metadata.
type SaveMessageParams struct {
	SessionID uuid.UUID
	Role      models.Role
	Content   string

	HintLevelUsed     *int
	ProblemDifficulty *int
	MathsDifficulty   *int
	InputTokens       *int
	OutputTokens      *int
	AttachmentIDs     []uuid.UUID
}

// GetOrCreateSession returns the session when it exists and belongs to the
// user; otherwise it creates a new general session. A stale or foreign
// session id silently gets a fresh session rather than an error.
func (q queries) GetOrCreateSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.ChatSession, error) {
	if sessionID != nil {
		const query = `
			SELECT id, user_id, session_type, created_at
			FROM chat_sessions WHERE id = $1 AND user_id = $2`

		var s models.ChatSession
		err := q.db.QueryRow(ctx, query, *sessionID, userID).Scan(
			&s.ID, &s.UserID, &s.SessionType, &s.CreatedAt,
		)
		if err == nil {
			return &s, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session: %w", err)
		}
	}

	const insert = `
		INSERT INTO chat_sessions (id, user_id, session_type)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, session_type, created_at`

	var s models.ChatSession
	err := q.db.QueryRow(ctx, insert, uuid.New(), userID, models.SessionTypeGeneral).Scan(
		&s.ID, &s.UserID, &s.SessionType, &s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

// SaveMessage inserts one message row.
func (q queries) SaveMessage(ctx context.Context, p SaveMessageParams) (*models.ChatMessage, error) {
	const query = `
		INSERT INTO chat_messages
			(id, session_id, role, content, hint_level_used, problem_difficulty,
			 maths_difficulty, input_tokens, output_tokens, attachment_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid[])
		RETURNING id, created_at`

	m := models.ChatMessage{
		SessionID:         p.SessionID,
		Role:              p.Role,
		Content:           p.Content,
		HintLevelUsed:     p.HintLevelUsed,
		ProblemDifficulty: p.ProblemDifficulty,
		MathsDifficulty:   p.MathsDifficulty,
		InputTokens:       p.InputTokens,
		OutputTokens:      p.OutputTokens,
		AttachmentIDs:     p.AttachmentIDs,
	}
	err := q.db.QueryRow(ctx, query,
		uuid.New(), p.SessionID, p.Role, p.Content,
		p.HintLevelUsed, p.ProblemDifficulty, p.MathsDifficulty,
		p.InputTokens, p.OutputTokens, uuidStrings(p.AttachmentIDs),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return &m, nil
}

// GetChatHistory loads all turns of a session in chronological order.
func (q queries) GetChatHistory(ctx context.Context, sessionID uuid.UUID) ([]HistoryEntry, error) {
	const query = `
		SELECT role, content FROM chat_messages
		WHERE session_id = $1 ORDER BY created_at ASC`

	rows, err := q.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get chat history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.Role, &entry.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

// ListSessions returns the user's sessions newest first, each with the first
// user message for preview rendering.
func (q queries) ListSessions(ctx context.Context, userID uuid.UUID) ([]SessionSummary, error) {
	const query = `
		SELECT s.id, s.created_at,
		       COALESCE((
		           SELECT m.content FROM chat_messages m
		           WHERE m.session_id = s.id AND m.role = 'user'
		           ORDER BY m.created_at ASC LIMIT 1
		       ), '') AS first_message
		FROM chat_sessions s
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC`

	rows, err := q.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.FirstMessage); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetSessionMessages loads all messages of an owned session, chronological.
// Returns ErrNotFound when the session does not exist or belongs to someone
// else.
func (q queries) GetSessionMessages(ctx context.Context, userID, sessionID uuid.UUID) ([]models.ChatMessage, error) {
	if err := q.checkSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	const query = `
		SELECT id, session_id, role, content, hint_level_used,
		       problem_difficulty, maths_difficulty, input_tokens,
		       output_tokens, attachment_ids, created_at
		FROM chat_messages
		WHERE session_id = $1 ORDER BY created_at ASC`

	rows, err := q.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var attachmentIDs []string
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Role, &m.Content, &m.HintLevelUsed,
			&m.ProblemDifficulty, &m.MathsDifficulty, &m.InputTokens,
			&m.OutputTokens, &attachmentIDs, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if m.AttachmentIDs, err = parseUUIDs(attachmentIDs); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteSession removes an owned session; messages cascade. Returns
// ErrNotFound when the session is absent or foreign.
func (q queries) DeleteSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	const query = `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`

	tag, err := q.db.Exec(ctx, query, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) checkSessionOwner(ctx context.Context, userID, sessionID uuid.UUID) error {
	const query = `SELECT 1 FROM chat_sessions WHERE id = $1 AND user_id = $2`

	var one int
	err := q.db.QueryRow(ctx, query, sessionID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session owner: %w", err)
	}
	return nil
}

// uuidStrings renders ids for a uuid[] parameter; nil stays NULL.
func uuidStrings(ids []uuid.UUID) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
