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

// GetUserByID loads one user row.
func (q queries) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const query = `
		SELECT id, email, display_name, programming_level, maths_level,
		       effective_programming_level, effective_maths_level,
		       last_embedding, last_embedding_at, created_at
		FROM users WHERE id = $1`

	var u models.User
	err := q.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.ProgrammingLevel, &u.MathsLevel,
		&u.EffectiveProgrammingLevel, &u.EffectiveMathsLevel,
		&u.LastEmbedding, &u.LastEmbeddingAt, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UpdateEffectiveLevels writes back the drifted effective levels.
func (q queries) UpdateEffectiveLevels(ctx context.Context, userID uuid.UUID, programming, maths float64) error {
	const query = `
		UPDATE users
		SET effective_programming_level = $2, effective_maths_level = $3
		WHERE id = $1`

	if _, err := q.db.Exec(ctx, query, userID, programming, maths); err != nil {
		return fmt.Errorf("update effective levels: %w", err)
	}
	return nil
}

// UpdateLastEmbedding persists the continuity embedding so continuation
// detection survives reconnects.
func (q queries) UpdateLastEmbedding(ctx context.Context, userID uuid.UUID, embedding []float64, at time.Time) error {
	const query = `
		UPDATE users
		SET last_embedding = $2, last_embedding_at = $3
		WHERE id = $1`

	if _, err := q.db.Exec(ctx, query, userID, embedding, at); err != nil {
		return fmt.Errorf("update last embedding: %w", err)
	}
	return nil
}
