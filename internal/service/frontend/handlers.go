package frontend

import (
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/models"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
	"github.com/baobabted/AI-Coding-Tutor/internal/upload"
)

const sessionPreviewLimit = 80

// maxUploadMemory caps the multipart parse buffer; larger parts spill to
// temporary files.
const maxUploadMemory = 32 << 20

type sessionOut struct {
	ID        string    `json:"id"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
}

type messageOut struct {
	ID          string           `json:"id"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	CreatedAt   time.Time        `json:"created_at"`
	Attachments []upload.Payload `json:"attachments,omitempty"`
}

type usageOut struct {
	Date             string  `json:"date"`
	InputTokensUsed  int     `json:"input_tokens_used"`
	OutputTokensUsed int     `json:"output_tokens_used"`
	DailyInputLimit  int     `json:"daily_input_limit"`
	DailyOutputLimit int     `json:"daily_output_limit"`
	UsagePercentage  float64 `json:"usage_percentage"`
}

// handleListSessions returns the user's sessions, newest first.
func (srv *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	sessions, err := srv.store.ListSessions(r.Context(), user.ID)
	if err != nil {
		logger.Error(r.Context(), "List sessions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	out := make([]sessionOut, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionOut{
			ID:        s.ID.String(),
			Preview:   sessionPreview(s.FirstMessage),
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSessionMessages returns one session's messages in order, with
// attachment payloads resolved.
func (srv *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	messages, err := srv.store.GetSessionMessages(r.Context(), user.ID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		logger.Error(r.Context(), "Load session messages failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	attachments := srv.resolveAttachments(r, user.ID, messages)

	out := make([]messageOut, 0, len(messages))
	for _, m := range messages {
		entry := messageOut{
			ID:        m.ID.String(),
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		for _, id := range m.AttachmentIDs {
			if payload, ok := attachments[id]; ok {
				entry.Attachments = append(entry.Attachments, payload)
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// resolveAttachments maps every attachment id referenced by the messages to
// its client payload. Expired or deleted files are simply left out.
func (srv *Server) resolveAttachments(r *http.Request, userID uuid.UUID, messages []models.ChatMessage) map[uuid.UUID]upload.Payload {
	var ids []uuid.UUID
	for _, m := range messages {
		ids = append(ids, m.AttachmentIDs...)
	}
	if len(ids) == 0 {
		return nil
	}

	files, err := srv.uploads.GetUserUploadsByIDs(r.Context(), userID, ids)
	if err != nil {
		logger.Warn(r.Context(), "Attachment lookup failed", "err", err)
		return nil
	}

	out := make(map[uuid.UUID]upload.Payload, len(files))
	for i := range files {
		out[files[i].ID] = upload.AttachmentPayload(&files[i])
	}
	return out
}

// handleDeleteSession removes a session and its messages.
func (srv *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := srv.store.DeleteSession(r.Context(), user.ID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		logger.Error(r.Context(), "Delete session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

// handleUsage reports today's token consumption against the daily limits.
func (srv *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	usage, err := srv.store.GetDailyUsage(r.Context(), user.ID)
	if err != nil {
		logger.Error(r.Context(), "Load daily usage failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, usageResponse(usage, srv.cfg.Quota.DailyInputTokenLimit, srv.cfg.Quota.DailyOutputTokenLimit))
}

// usageResponse shapes a usage row for the client; the date is the
// server-local calendar day.
func usageResponse(usage *models.DailyTokenUsage, inputLimit, outputLimit int) usageOut {
	return usageOut{
		Date:             usage.Date.Format("2006-01-02"),
		InputTokensUsed:  usage.InputTokensUsed,
		OutputTokensUsed: usage.OutputTokensUsed,
		DailyInputLimit:  inputLimit,
		DailyOutputLimit: outputLimit,
		UsagePercentage:  usagePercentage(usage.InputTokensUsed, usage.OutputTokensUsed, inputLimit, outputLimit),
	}
}

// handleUpload ingests a multipart batch of attachments.
func (srv *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload request")
		return
	}

	var files []upload.IncomingFile
	for _, header := range r.MultipartForm.File["files"] {
		part, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload request")
			return
		}
		content, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload request")
			return
		}
		files = append(files, upload.IncomingFile{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	saved, err := srv.uploads.SaveFiles(r.Context(), user.ID, files)
	if err != nil {
		if errors.Is(err, upload.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error(r.Context(), "Upload failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	out := make([]upload.Payload, 0, len(saved))
	for i := range saved {
		out = append(out, upload.AttachmentPayload(&saved[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUploadContent streams a stored file back to its owner.
func (srv *Server) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	uploadID, err := uuid.Parse(chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	file, err := srv.uploads.GetUserUpload(r.Context(), user.ID, uploadID)
	if err != nil {
		logger.Error(r.Context(), "Upload lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	http.ServeFile(w, r, file.StoragePath)
}

// handleDeleteUpload removes a stored file and its row.
func (srv *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	uploadID, err := uuid.Parse(chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if err := srv.uploads.Delete(r.Context(), user.ID, uploadID); err != nil {
		logger.Error(r.Context(), "Delete upload failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted"})
}

// sessionPreview renders the session list entry from the first user message.
func sessionPreview(firstMessage string) string {
	if firstMessage == "" {
		return "New conversation"
	}
	runes := []rune(firstMessage)
	if len(runes) <= sessionPreviewLimit {
		return firstMessage
	}
	return string(runes[:sessionPreviewLimit])
}

// usagePercentage is the displayed quota consumption: the larger of the two
// ratios, one decimal place, capped at 100.
func usagePercentage(inputUsed, outputUsed, inputLimit, outputLimit int) float64 {
	var inputPct, outputPct float64
	if inputLimit > 0 {
		inputPct = float64(inputUsed) / float64(inputLimit) * 100
	}
	if outputLimit > 0 {
		outputPct = float64(outputUsed) / float64(outputLimit) * 100
	}
	pct := math.Round(math.Max(inputPct, outputPct)*10) / 10
	return math.Min(100, pct)
}
