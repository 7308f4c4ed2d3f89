package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baobabted/AI-Coding-Tutor/internal/models"
)

// today renders the server-local calendar date for the daily usage row.
func today() string {
	return time.Now().Format("2006-01-02")
}

// GetDailyUsage returns today's usage row, creating it at zero when absent.
func (q queries) GetDailyUsage(ctx context.Context, userID uuid.UUID) (*models.DailyTokenUsage, error) {
	const insert = `
		INSERT INTO daily_token_usage (id, user_id, date)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO NOTHING`

	if _, err := q.db.Exec(ctx, insert, uuid.New(), userID, today()); err != nil {
		return nil, fmt.Errorf("init daily usage: %w", err)
	}

	const query = `
		SELECT id, user_id, date, input_tokens_used, output_tokens_used
		FROM daily_token_usage WHERE user_id = $1 AND date = $2`

	var u models.DailyTokenUsage
	err := q.db.QueryRow(ctx, query, userID, today()).Scan(
		&u.ID, &u.UserID, &u.Date, &u.InputTokensUsed, &u.OutputTokensUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("get daily usage: %w", err)
	}
	return &u, nil
}

// IncrementTokenUsage adds to today's counters, creating the row on first
// use. The unique (user_id, date) index keeps this a single-row upsert.
func (q queries) IncrementTokenUsage(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int) error {
	const query = `
		INSERT INTO daily_token_usage (id, user_id, date, input_tokens_used, output_tokens_used)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, date) DO UPDATE SET
			input_tokens_used  = daily_token_usage.input_tokens_used + EXCLUDED.input_tokens_used,
			output_tokens_used = daily_token_usage.output_tokens_used + EXCLUDED.output_tokens_used`

	if _, err := q.db.Exec(ctx, query, uuid.New(), userID, today(), inputTokens, outputTokens); err != nil {
		return fmt.Errorf("increment token usage: %w", err)
	}
	return nil
}

// CheckDailyLimit reports whether the user is strictly below both daily
// limits. Reaching a limit exactly blocks further turns.
func (q queries) CheckDailyLimit(ctx context.Context, userID uuid.UUID) (bool, error) {
	usage, err := q.GetDailyUsage(ctx, userID)
	if err != nil {
		return false, err
	}
	return usage.InputTokensUsed < q.limits.InputTokens &&
		usage.OutputTokensUsed < q.limits.OutputTokens, nil
}
