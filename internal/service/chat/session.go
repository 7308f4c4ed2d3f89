package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/baobabted/AI-Coding-Tutor/internal/embedding"
	"github.com/baobabted/AI-Coding-Tutor/internal/history"
	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/models"
	"github.com/baobabted/AI-Coding-Tutor/internal/pedagogy"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
)

// Client-facing messages for recoverable turn failures.
const (
	msgInvalidFormat     = "Invalid message format"
	msgInvalidAttachment = "Invalid attachment reference format."
	msgQuotaReached      = "Daily token limit reached. Try again tomorrow."
	msgAttachmentsStale  = "One or more attachments are invalid, expired, or inaccessible."
	msgInputTooLarge     = "Files are too large for one message. Please split them and try again."
	msgLLMUnavailable    = "AI service temporarily unavailable. Please try again."
	msgInternalError     = "Internal error"
)

// attachmentsPlaceholder stands in for the user text when a message carries
// only files.
const attachmentsPlaceholder = "Sent attachments."

const sendTimeout = 5 * time.Second

// wire is the websocket surface the session uses; *websocket.Conn satisfies
// it.
type wire interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Session is one authenticated websocket connection. Frames are handled
// strictly in arrival order; the student state persists across turns and is
// flushed to the user row after each answered one.
type Session struct {
	svc   *Service
	conn  wire
	user  *models.User
	state *pedagogy.StudentState

	mu     sync.Mutex
	closed bool
}

// NewSession builds the per-connection state for a user.
func NewSession(svc *Service, conn wire, user *models.User) *Session {
	return &Session{
		svc:   svc,
		conn:  conn,
		user:  user,
		state: pedagogy.NewStudentState(user),
	}
}

// Run reads frames until the client disconnects. Recoverable failures emit
// error events and keep the connection; persistence failures end it.
func (s *Session) Run(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			logger.Debug(ctx, "Chat connection closed", "user", s.user.ID, "err", err)
			return nil
		}

		if err := s.handleFrame(ctx, data); err != nil {
			logger.Error(ctx, "Chat turn failed", "user", s.user.ID, "err", err)
			// Best effort; the connection itself may be what failed.
			_ = s.sendError(ctx, msgInternalError)
			return err
		}
	}
}

// handleFrame parses and runs one turn. The returned error is fatal for the
// connection; client-correctable problems are reported as error events and
// return nil.
func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return s.sendError(ctx, msgInvalidFormat)
	}

	frame.Content = strings.TrimSpace(frame.Content)

	if len(frame.UploadIDs) > s.svc.cfg.MaxImages+s.svc.cfg.MaxDocuments {
		return s.sendError(ctx, s.tooManyFilesMessage())
	}
	uploadIDs, ok := parseUploadIDs(frame.UploadIDs)
	if !ok {
		return s.sendError(ctx, msgInvalidAttachment)
	}

	// Nothing to do: no text and no attachments.
	if frame.Content == "" && len(uploadIDs) == 0 {
		return nil
	}

	return s.runTurn(ctx, frame, uploadIDs)
}

// runTurn executes the full pipeline for one student message.
func (s *Session) runTurn(ctx context.Context, frame clientFrame, uploadIDs []uuid.UUID) error {
	ok, err := s.svc.store.CheckDailyLimit(ctx, s.user.ID)
	if err != nil {
		return fmt.Errorf("check daily limit: %w", err)
	}
	if !ok {
		return s.sendError(ctx, msgQuotaReached)
	}

	uploads, err := s.svc.uploads.GetUserUploadsByIDs(ctx, s.user.ID, uploadIDs)
	if err != nil {
		return fmt.Errorf("resolve attachments: %w", err)
	}
	if len(uploads) != len(uploadIDs) {
		return s.sendError(ctx, msgAttachmentsStale)
	}

	imageUploads, documentUploads := splitUploads(uploads)
	if len(imageUploads) > s.svc.cfg.MaxImages || len(documentUploads) > s.svc.cfg.MaxDocuments {
		return s.sendError(ctx, s.tooManyFilesMessage())
	}

	enriched := enrichMessage(frame.Content, documentUploads)

	inputTokens := llm.CountTokens(enriched) + len(imageUploads)*llm.ImageTokenEstimate
	if inputTokens > s.svc.cfg.MaxUserInputTokens {
		return s.sendError(ctx, msgInputTooLarge)
	}

	// Best effort: a turn without an embedding just skips continuation
	// detection.
	combined := s.combinedEmbedding(ctx, enriched, imageUploads)

	session, err := s.recordUserMessage(ctx, frame, enriched, inputTokens, uploads)
	if err != nil {
		return err
	}
	if err := s.send(ctx, newSessionEvent(session.ID)); err != nil {
		return err
	}

	decision := s.svc.engine.Evaluate(ctx, pedagogy.Input{
		Message:     enriched,
		DisplayName: s.user.DisplayName,
		State:       s.state,
		Embedding:   combined,
		// Attached files are always task context, so the greeting and
		// off-topic filters only apply to plain text messages.
		EnableTopicFilters: len(uploads) == 0,
	})

	if decision.Filter != "" {
		return s.finishCannedTurn(ctx, session.ID, decision)
	}

	return s.finishStreamedTurn(ctx, session.ID, enriched, inputTokens, imageUploads, combined, decision)
}

// recordUserMessage creates or resumes the session and persists the user
// message in one transaction.
func (s *Session) recordUserMessage(ctx context.Context, frame clientFrame, enriched string, inputTokens int, uploads []models.UploadedFile) (*models.ChatSession, error) {
	tx, err := s.svc.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	session, err := tx.GetOrCreateSession(ctx, s.user.ID, parseSessionID(frame.SessionID))
	if err != nil {
		return nil, err
	}

	content := frame.Content
	if content == "" {
		content = attachmentsPlaceholder
	}
	attachmentIDs := make([]uuid.UUID, 0, len(uploads))
	for _, u := range uploads {
		attachmentIDs = append(attachmentIDs, u.ID)
	}

	_, err = tx.SaveMessage(ctx, store.SaveMessageParams{
		SessionID:     session.ID,
		Role:          models.RoleUser,
		Content:       content,
		InputTokens:   &inputTokens,
		AttachmentIDs: attachmentIDs,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit user message: %w", err)
	}
	return session, nil
}

// finishCannedTurn handles an intercepted message: the canned response is
// both sent and recorded as the assistant turn.
func (s *Session) finishCannedTurn(ctx context.Context, sessionID uuid.UUID, d pedagogy.Decision) error {
	if err := s.send(ctx, newCannedEvent(d.CannedResponse, d.Filter)); err != nil {
		return err
	}

	tx, err := s.svc.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.SaveMessage(ctx, store.SaveMessageParams{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   d.CannedResponse,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit canned response: %w", err)
	}
	return nil
}

// finishStreamedTurn builds the context window, streams the answer, and
// persists the bookkeeping for the turn.
func (s *Session) finishStreamedTurn(ctx context.Context, sessionID uuid.UUID, enriched string, inputTokens int, imageUploads []models.UploadedFile, combined []float64, d pedagogy.Decision) error {
	entries, err := s.svc.store.GetChatHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	// The just-saved user message is re-appended by the context builder.
	if len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}

	systemPrompt := pedagogy.SystemPrompt(
		d.HintLevel,
		int(math.Round(s.state.EffectiveProgrammingLevel)),
		int(math.Round(s.state.EffectiveMathsLevel)),
	)

	turns := make([]history.Turn, len(entries))
	for i, e := range entries {
		turns[i] = history.Turn{Role: llm.Role(e.Role), Content: e.Content}
	}
	messages := s.svc.builder.Build(ctx, turns, enriched, systemPrompt)
	if len(imageUploads) > 0 && len(messages) > 0 {
		messages[len(messages)-1] = multimodalUserMessage(enriched, imageUploads)
	}

	answer, ok, err := s.streamAnswer(ctx, systemPrompt, messages)
	if err != nil {
		return err
	}
	if !ok {
		// The prompt still went upstream, so the input estimate counts
		// against the daily quota even without an answer.
		if err := s.chargeInputTokens(ctx, inputTokens); err != nil {
			return err
		}
		return s.sendError(ctx, msgLLMUnavailable)
	}

	outputTokens := llm.CountTokens(answer)

	s.svc.engine.Absorb(ctx, s.state, enriched, answer, combined, d)

	if err := s.recordAnswer(ctx, sessionID, answer, inputTokens, outputTokens, d); err != nil {
		return err
	}

	return s.send(ctx, newDoneEvent(d.HintLevel, d.ProgrammingDifficulty, d.MathsDifficulty))
}

// streamAnswer forwards deltas as token events and returns the assembled
// answer. ok is false when the provider failed; a send failure is fatal.
func (s *Session) streamAnswer(ctx context.Context, systemPrompt string, messages []llm.Message) (string, bool, error) {
	events, err := s.svc.provider.ChatStream(ctx, &llm.ChatRequest{
		System:   systemPrompt,
		Messages: messages,
	})
	if err != nil {
		logger.Error(ctx, "LLM stream failed to start", "err", err)
		return "", false, nil
	}

	var answer strings.Builder
	for ev := range events {
		if ev.Error != nil {
			logger.Error(ctx, "LLM stream failed", "err", ev.Error)
			return "", false, nil
		}
		if ev.Delta == "" {
			continue
		}
		answer.WriteString(ev.Delta)
		if err := s.send(ctx, newTokenEvent(ev.Delta)); err != nil {
			return "", false, err
		}
	}
	return answer.String(), true, nil
}

// recordAnswer persists the assistant message, usage counters, and the
// drifted student state in one transaction.
func (s *Session) recordAnswer(ctx context.Context, sessionID uuid.UUID, answer string, inputTokens, outputTokens int, d pedagogy.Decision) error {
	tx, err := s.svc.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	hint, prog, maths := d.HintLevel, d.ProgrammingDifficulty, d.MathsDifficulty
	_, err = tx.SaveMessage(ctx, store.SaveMessageParams{
		SessionID:         sessionID,
		Role:              models.RoleAssistant,
		Content:           answer,
		HintLevelUsed:     &hint,
		ProblemDifficulty: &prog,
		MathsDifficulty:   &maths,
		OutputTokens:      &outputTokens,
	})
	if err != nil {
		return err
	}

	if err := tx.IncrementTokenUsage(ctx, s.user.ID, inputTokens, outputTokens); err != nil {
		return err
	}
	if err := tx.UpdateEffectiveLevels(ctx, s.user.ID, s.state.EffectiveProgrammingLevel, s.state.EffectiveMathsLevel); err != nil {
		return err
	}
	if len(s.state.LastEmbedding) > 0 {
		if err := tx.UpdateLastEmbedding(ctx, s.user.ID, s.state.LastEmbedding, s.state.LastAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit answer: %w", err)
	}
	return nil
}

// chargeInputTokens books input usage for a turn whose generation failed.
func (s *Session) chargeInputTokens(ctx context.Context, inputTokens int) error {
	tx, err := s.svc.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.IncrementTokenUsage(ctx, s.user.ID, inputTokens, 0); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit input usage: %w", err)
	}
	return nil
}

// combinedEmbedding embeds the enriched text and each attached image and
// averages them. Any failure degrades to a turn without an embedding.
func (s *Session) combinedEmbedding(ctx context.Context, enriched string, imageUploads []models.UploadedFile) []float64 {
	if s.svc.embedder == nil {
		return nil
	}

	var vectors [][]float64
	if vec, err := s.svc.embedder.EmbedText(ctx, enriched); err == nil {
		vectors = append(vectors, vec)
	} else {
		logger.Debug(ctx, "Text embedding failed", "err", err)
	}

	for _, image := range imageUploads {
		data, err := os.ReadFile(image.StoragePath)
		if err != nil {
			logger.Warn(ctx, "Attached image unreadable", "path", image.StoragePath, "err", err)
			continue
		}
		if vec, err := s.svc.embedder.EmbedImage(ctx, data, image.ContentType); err == nil {
			vectors = append(vectors, vec)
		} else {
			logger.Debug(ctx, "Image embedding failed", "err", err)
		}
	}
	return embedding.Combine(vectors)
}

// send marshals and writes one event, serialising concurrent writers.
func (s *Session) send(ctx context.Context, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("connection closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (s *Session) sendError(ctx context.Context, message string) error {
	return s.send(ctx, newErrorEvent(message))
}

// Close marks the session closed; subsequent sends fail fast.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) tooManyFilesMessage() string {
	return fmt.Sprintf("Too many files. You can upload up to %d photos and %d files per message.",
		s.svc.cfg.MaxImages, s.svc.cfg.MaxDocuments)
}

// parseUploadIDs converts the raw references; any malformed id rejects the
// whole frame.
func parseUploadIDs(raw []string) ([]uuid.UUID, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// parseSessionID treats a malformed session id as absent: the turn starts a
// fresh session instead of failing.
func parseSessionID(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func splitUploads(uploads []models.UploadedFile) (images, documents []models.UploadedFile) {
	for _, u := range uploads {
		if u.FileType == models.FileTypeImage {
			images = append(images, u)
		} else {
			documents = append(documents, u)
		}
	}
	return images, documents
}

// enrichMessage appends each document's extracted text to the user message
// so the model sees the attachments inline.
func enrichMessage(userMessage string, documentUploads []models.UploadedFile) string {
	var parts []string
	if userMessage != "" {
		parts = append(parts, userMessage)
	}
	for _, doc := range documentUploads {
		if doc.ExtractedText == nil || *doc.ExtractedText == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[Attached document: %s]\n%s", doc.OriginalFilename, *doc.ExtractedText))
	}
	if len(parts) == 0 {
		return "Please analyse the attached files."
	}
	return strings.Join(parts, "\n\n")
}

// multimodalUserMessage rebuilds the final user message with the attached
// images as base64 parts. Missing files are skipped.
func multimodalUserMessage(enriched string, imageUploads []models.UploadedFile) llm.Message {
	parts := []llm.ContentPart{{Type: llm.PartText, Text: enriched}}
	for _, image := range imageUploads {
		data, err := os.ReadFile(image.StoragePath)
		if err != nil {
			continue
		}
		parts = append(parts, llm.ContentPart{
			Type:      llm.PartImage,
			MediaType: image.ContentType,
			Data:      base64.StdEncoding.EncodeToString(data),
		})
	}
	return llm.Message{Role: llm.RoleUser, Parts: parts}
}
