package llm

import (
	"context"
	"time"
)

// verifyTimeout bounds the key-verification request.
const verifyTimeout = 15 * time.Second

// VerifyKey performs a minimal one-token request against the provider to
// confirm the configured credential works. Intended for startup checks;
// failures are reported, not fatal.
func VerifyKey(ctx context.Context, p Provider, model string) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	maxTokens := 1
	_, err := p.Chat(ctx, &ChatRequest{
		Model:     model,
		Messages:  []Message{TextMessage(RoleUser, "ping")},
		MaxTokens: &maxTokens,
	})
	return err
}
