// Package history assembles the bounded-token message window sent to the
// LLM, summarising whatever history no longer fits.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
)

const (
	summaryTokenBudget = 300

	summarySystemPrompt = `Summarise the following tutoring conversation in at most 300 tokens.
Keep the problem being worked on, the approaches already tried, and any conclusions reached.
Write plain prose, no headings.`
)

// Turn is one stored exchange half: a user or assistant message.
type Turn struct {
	Role    llm.Role
	Content string
}

// Builder assembles context windows. CompressionRatio r in (0,1] controls
// when a dropped prefix is summarised: summarisation triggers once the
// dropped tokens outweigh (1-r) of the budget.
type Builder struct {
	llm              llm.Provider
	maxContextTokens int
	compressionRatio float64
}

func NewBuilder(provider llm.Provider, maxContextTokens int, compressionRatio float64) *Builder {
	if compressionRatio <= 0 || compressionRatio > 1 {
		compressionRatio = 1
	}
	return &Builder{
		llm:              provider,
		maxContextTokens: maxContextTokens,
		compressionRatio: compressionRatio,
	}
}

// Build returns the messages for one turn: as much recent history as the
// budget allows, an optional summary of the dropped prefix, and the current
// user message last. Order is chronological and the final element is always
// the current user message.
func (b *Builder) Build(ctx context.Context, history []Turn, userMessage, systemPrompt string) []llm.Message {
	budget := b.maxContextTokens - llm.CountTokens(systemPrompt) - llm.CountTokens(userMessage)

	// Walk newest to oldest, keeping whole turns while they fit.
	kept := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := llm.CountTokens(history[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		kept = i
	}

	messages := make([]llm.Message, 0, len(history)-kept+2)

	if kept > 0 {
		dropped := history[:kept]
		droppedTokens := 0
		for _, turn := range dropped {
			droppedTokens += llm.CountTokens(turn.Content)
		}
		threshold := int(float64(b.maxContextTokens) * (1 - b.compressionRatio))
		if droppedTokens > threshold {
			if summary := b.summarise(ctx, dropped); summary != "" {
				messages = append(messages, llm.TextMessage(
					llm.RoleUser,
					fmt.Sprintf("[Earlier context summary: %s]", summary),
				))
			}
		}
	}

	for _, turn := range history[kept:] {
		messages = append(messages, llm.TextMessage(turn.Role, turn.Content))
	}

	return append(messages, llm.TextMessage(llm.RoleUser, userMessage))
}

// summarise condenses the dropped prefix. Failures drop the prefix silently;
// the turn proceeds with recent history only.
func (b *Builder) summarise(ctx context.Context, dropped []Turn) string {
	var transcript strings.Builder
	for _, turn := range dropped {
		fmt.Fprintf(&transcript, "%s: %s\n", turn.Role, turn.Content)
	}

	maxTokens := summaryTokenBudget
	resp, err := b.llm.Chat(ctx, &llm.ChatRequest{
		System:    summarySystemPrompt,
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, transcript.String())},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		logger.Warn(ctx, "History summarisation failed, dropping prefix", "err", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
