// Package pedagogy decides how much help each answer should give: it filters
// greetings and off-topic messages, selects a hint level, estimates question
// difficulty, and drifts the student's effective skill levels over time.
package pedagogy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/baobabted/AI-Coding-Tutor/internal/embedding"
	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
)

const (
	// Continuation detection: same topic when the new message's embedding is
	// this close to the previous one, within the window.
	continuationSimilarity = 0.80
	continuationWindow     = 15 * time.Minute

	defaultHintLevel = 2
	maxHintLevel     = 4

	classifierTokenBudget = 30

	// DefaultDriftStep is the per-turn effective-level adjustment.
	DefaultDriftStep = 0.05
)

// Chatter is the non-streaming LLM surface the classifiers use.
type Chatter interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// Embedder produces text embeddings for continuity tracking.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// Decision is the outcome of evaluating one student message.
type Decision struct {
	// Filter is FilterGreeting or FilterOffTopic when the message was
	// intercepted, empty otherwise.
	Filter                string
	CannedResponse        string
	HintLevel             int
	ProgrammingDifficulty int
	MathsDifficulty       int
	Continuation          bool
}

// Input carries one message through Evaluate.
type Input struct {
	Message     string
	DisplayName string
	State       *StudentState
	// Embedding of the current message, nil when unavailable.
	Embedding []float64
	// EnableTopicFilters is false when attachments are present: attached
	// files are always task context.
	EnableTopicFilters bool
}

// Engine evaluates messages and absorbs answered turns. All classifier calls
// are best-effort: on any failure the engine falls back to defaults rather
// than surfacing an error.
type Engine struct {
	llm       Chatter
	embedder  Embedder
	driftStep float64
}

// NewEngine creates an engine. A driftStep of 0 selects DefaultDriftStep.
func NewEngine(chatter Chatter, embedder Embedder, driftStep float64) *Engine {
	if driftStep <= 0 {
		driftStep = DefaultDriftStep
	}
	return &Engine{llm: chatter, embedder: embedder, driftStep: driftStep}
}

// Evaluate runs the topic filter, continuation check, hint-level selection,
// and difficulty estimation for one message.
func (e *Engine) Evaluate(ctx context.Context, in Input) Decision {
	if in.EnableTopicFilters {
		if d, intercepted := e.topicFilter(ctx, in); intercepted {
			return d
		}
	}

	continuation := e.isContinuation(in.State, in.Embedding)

	hintLevel := e.classifyHintLevel(ctx, in.Message, in.State)
	if continuation && hintLevel < maxHintLevel {
		hintLevel++
	}

	prog, maths := e.classifyDifficulty(ctx, in.Message, in.State)

	return Decision{
		HintLevel:             hintLevel,
		ProgrammingDifficulty: prog,
		MathsDifficulty:       maths,
		Continuation:          continuation,
	}
}

// Absorb updates the student state after a completed answer: it replaces the
// context embedding with the combined Q+A embedding and drifts each effective
// level toward the answered difficulty.
func (e *Engine) Absorb(ctx context.Context, state *StudentState, question, answer string, questionEmbedding []float64, d Decision) {
	vectors := make([][]float64, 0, 2)
	if len(questionEmbedding) > 0 {
		vectors = append(vectors, questionEmbedding)
	}
	if e.embedder != nil {
		if vec, err := e.embedder.EmbedText(ctx, question+"\n"+answer); err == nil {
			vectors = append(vectors, vec)
		} else {
			logger.Debug(ctx, "Turn embedding failed", "err", err)
		}
	}
	if combined := embedding.Combine(vectors); combined != nil {
		state.LastEmbedding = combined
		state.LastAt = time.Now()
	}

	state.EffectiveProgrammingLevel = drift(state.EffectiveProgrammingLevel, d.ProgrammingDifficulty, e.driftStep)
	state.EffectiveMathsLevel = drift(state.EffectiveMathsLevel, d.MathsDifficulty, e.driftStep)
}

// drift nudges an effective level one step toward the answered difficulty.
func drift(level float64, difficulty int, step float64) float64 {
	if difficulty < 1 {
		return level
	}
	target := float64(difficulty)
	switch {
	case target > level:
		level += step
	case target < level:
		level -= step
	}
	return clampLevel(level)
}

func (e *Engine) isContinuation(state *StudentState, emb []float64) bool {
	if state == nil || len(emb) == 0 || len(state.LastEmbedding) == 0 {
		return false
	}
	if time.Since(state.LastAt) > continuationWindow {
		return false
	}
	return embedding.Cosine(emb, state.LastEmbedding) >= continuationSimilarity
}

// topicFilter classifies the message; returns an intercepting decision for
// greetings and off-topic messages. Classifier failures pass the message
// through.
func (e *Engine) topicFilter(ctx context.Context, in Input) (Decision, bool) {
	label, err := e.classify(ctx, topicFilterSystemPrompt, in.Message)
	if err != nil {
		logger.Warn(ctx, "Topic filter failed, passing message through", "err", err)
		return Decision{}, false
	}

	switch {
	case strings.Contains(label, labelGreeting):
		return Decision{Filter: FilterGreeting, CannedResponse: greetingResponse(in.DisplayName)}, true
	case strings.Contains(label, labelOffTopic):
		return Decision{Filter: FilterOffTopic, CannedResponse: offTopicResponse(in.DisplayName)}, true
	case strings.Contains(label, labelOnTopic):
		return Decision{}, false
	default:
		return Decision{}, false
	}
}

// classifyHintLevel picks the Socratic depth for one question. The student's
// rounded effective levels go into the classifier input: the same question
// warrants more help for a weaker student.
func (e *Engine) classifyHintLevel(ctx context.Context, message string, state *StudentState) int {
	prog := roundedLevel(state, func(s *StudentState) float64 { return s.EffectiveProgrammingLevel })
	maths := roundedLevel(state, func(s *StudentState) float64 { return s.EffectiveMathsLevel })

	input := fmt.Sprintf("Student levels: programming %d/5, maths %d/5.\n\n%s", prog, maths, message)
	out, err := e.classify(ctx, hintLevelSystemPrompt, input)
	if err != nil {
		logger.Warn(ctx, "Hint level classifier failed, using default", "err", err)
		return defaultHintLevel
	}
	for _, r := range out {
		if r >= '1' && r <= '4' {
			return int(r - '0')
		}
	}
	return defaultHintLevel
}

func (e *Engine) classifyDifficulty(ctx context.Context, message string, state *StudentState) (int, int) {
	fallbackProg := roundedLevel(state, func(s *StudentState) float64 { return s.EffectiveProgrammingLevel })
	fallbackMaths := roundedLevel(state, func(s *StudentState) float64 { return s.EffectiveMathsLevel })

	out, err := e.classify(ctx, difficultySystemPrompt, message)
	if err != nil {
		logger.Warn(ctx, "Difficulty classifier failed, using student level", "err", err)
		return fallbackProg, fallbackMaths
	}

	parts := strings.SplitN(strings.TrimSpace(out), ",", 2)
	if len(parts) != 2 {
		return fallbackProg, fallbackMaths
	}
	prog, err1 := parseDifficulty(parts[0])
	maths, err2 := parseDifficulty(parts[1])
	if err1 != nil || err2 != nil {
		return fallbackProg, fallbackMaths
	}
	return prog, maths
}

func parseDifficulty(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v < 1 {
		v = 1
	}
	if v > 5 {
		v = 5
	}
	return v, nil
}

func roundedLevel(state *StudentState, get func(*StudentState) float64) int {
	if state == nil {
		return int(math.Round((MinLevel + MaxLevel) / 2))
	}
	return int(math.Round(clampLevel(get(state))))
}

func (e *Engine) classify(ctx context.Context, system, message string) (string, error) {
	maxTokens := classifierTokenBudget
	resp, err := e.llm.Chat(ctx, &llm.ChatRequest{
		System:    system,
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, message)},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(resp.Content)), nil
}
