// Package upload validates, stores, and extracts text from chat attachments.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/models"
)

// ErrValidation marks rejections the client can fix: wrong type, too many
// files, oversize, empty. Matched with errors.Is.
var ErrValidation = errors.New("upload rejected")

var (
	imageExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	}
	documentExtensions = map[string]bool{
		".pdf": true, ".txt": true, ".py": true, ".js": true, ".ts": true,
		".csv": true, ".ipynb": true,
	}
)

const allowedTypesHint = "PNG, JPG, JPEG, GIF, WebP, PDF, TXT, PY, JS, TS, CSV, IPYNB"

// Limits caps one upload batch.
type Limits struct {
	MaxImages         int
	MaxDocuments      int
	MaxImageBytes     int64
	MaxDocumentBytes  int64
	MaxDocumentTokens int
}

// Store is the persistence surface the ingestor needs.
type Store interface {
	SaveUpload(ctx context.Context, file *models.UploadedFile) error
	// DeleteExpiredUploads removes expired rows and returns their storage
	// paths so the caller can unlink the files.
	DeleteExpiredUploads(ctx context.Context, now time.Time) ([]string, error)
	GetUserUploadsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, now time.Time) ([]models.UploadedFile, error)
	GetUserUpload(ctx context.Context, userID, id uuid.UUID, now time.Time) (*models.UploadedFile, error)
	DeleteUpload(ctx context.Context, userID, id uuid.UUID) (*models.UploadedFile, error)
}

// IncomingFile is one file of an upload batch, fully read into memory.
type IncomingFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Payload is the attachment shape returned to clients.
type Payload struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	FileType    string `json:"file_type"`
	URL         string `json:"url"`
}

// Service ingests attachment batches and sweeps expired files.
type Service struct {
	store      Store
	storageDir string
	limits     Limits
	expiry     time.Duration
}

func NewService(store Store, storageDir string, limits Limits, expiry time.Duration) *Service {
	return &Service{store: store, storageDir: storageDir, limits: limits, expiry: expiry}
}

// SaveFiles validates and persists one batch atomically: the whole batch is
// validated before any file touches disk, and a write or store failure
// removes the files already written for this batch. Callers run it inside a
// transaction so rows roll back alongside.
func (s *Service) SaveFiles(ctx context.Context, userID uuid.UUID, files []IncomingFile) ([]models.UploadedFile, error) {
	if err := s.validateCount(files); err != nil {
		return nil, err
	}

	validated := make([]validatedFile, 0, len(files))
	for _, file := range files {
		v, err := s.validateOne(file)
		if err != nil {
			return nil, err
		}
		validated = append(validated, v)
	}

	s.SweepExpired(ctx)

	if err := os.MkdirAll(s.storageDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	expiresAt := time.Now().Add(s.expiry)

	var saved []models.UploadedFile
	var writtenPaths []string
	cleanup := func() {
		for _, path := range writtenPaths {
			removeFileQuietly(path)
		}
	}

	for _, v := range validated {
		item, err := s.writeOne(ctx, userID, v, expiresAt)
		if err != nil {
			cleanup()
			return nil, err
		}
		writtenPaths = append(writtenPaths, item.StoragePath)
		saved = append(saved, *item)
	}
	return saved, nil
}

type validatedFile struct {
	filename      string
	contentType   string
	content       []byte
	fileType      models.FileType
	extractedText *string
}

func (s *Service) validateOne(file IncomingFile) (validatedFile, error) {
	filename := file.Filename
	if filename == "" {
		filename = "upload"
	}

	fileType, maxBytes, err := s.classify(filename)
	if err != nil {
		return validatedFile{}, err
	}
	if len(file.Content) == 0 {
		return validatedFile{}, fmt.Errorf("%w: file %q is empty", ErrValidation, filename)
	}
	if int64(len(file.Content)) > maxBytes {
		return validatedFile{}, fmt.Errorf("%w: file %q is too large", ErrValidation, filename)
	}

	var extractedText *string
	if fileType == models.FileTypeDocument {
		text, err := ExtractDocumentText(filename, file.Content)
		if err != nil {
			return validatedFile{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if llm.CountTokens(text) > s.limits.MaxDocumentTokens {
			return validatedFile{}, fmt.Errorf("%w: file %q is too large", ErrValidation, filename)
		}
		extractedText = &text
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return validatedFile{
		filename:      filename,
		contentType:   contentType,
		content:       file.Content,
		fileType:      fileType,
		extractedText: extractedText,
	}, nil
}

func (s *Service) writeOne(ctx context.Context, userID uuid.UUID, v validatedFile, expiresAt time.Time) (*models.UploadedFile, error) {
	storedName := strings.ReplaceAll(uuid.NewString(), "-", "") + normaliseExtension(v.filename)
	storagePath := filepath.Join(s.storageDir, storedName)
	if err := os.WriteFile(storagePath, v.content, 0640); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	item := &models.UploadedFile{
		ID:               uuid.New(),
		UserID:           userID,
		OriginalFilename: v.filename,
		StoredFilename:   storedName,
		ContentType:      v.contentType,
		FileType:         v.fileType,
		SizeBytes:        int64(len(v.content)),
		StoragePath:      storagePath,
		ExtractedText:    v.extractedText,
		ExpiresAt:        expiresAt,
	}
	if err := s.store.SaveUpload(ctx, item); err != nil {
		removeFileQuietly(storagePath)
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return item, nil
}

// GetUserUploadsByIDs resolves unexpired attachments owned by the user, in
// the order requested. Unknown, foreign, and expired ids are skipped.
func (s *Service) GetUserUploadsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.UploadedFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.GetUserUploadsByIDs(ctx, userID, ids, time.Now())
}

// GetUserUpload fetches one owned, unexpired upload.
func (s *Service) GetUserUpload(ctx context.Context, userID, id uuid.UUID) (*models.UploadedFile, error) {
	return s.store.GetUserUpload(ctx, userID, id, time.Now())
}

// Delete removes an owned upload row and its file.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	item, err := s.store.DeleteUpload(ctx, userID, id)
	if err != nil {
		return err
	}
	if item != nil {
		removeFileQuietly(item.StoragePath)
	}
	return nil
}

// SweepExpired deletes expired upload rows and their files. Best effort:
// failures are logged, not surfaced.
func (s *Service) SweepExpired(ctx context.Context) {
	paths, err := s.store.DeleteExpiredUploads(ctx, time.Now())
	if err != nil {
		logger.Warn(ctx, "Expired upload sweep failed", "err", err)
		return
	}
	for _, path := range paths {
		removeFileQuietly(path)
	}
	if len(paths) > 0 {
		logger.Debug(ctx, "Swept expired uploads", "count", len(paths))
	}
}

// AttachmentPayload renders the client-facing attachment shape.
func AttachmentPayload(file *models.UploadedFile) Payload {
	return Payload{
		ID:          file.ID.String(),
		Filename:    file.OriginalFilename,
		ContentType: file.ContentType,
		FileType:    string(file.FileType),
		URL:         fmt.Sprintf("/api/upload/%s/content", file.ID),
	}
}

func (s *Service) validateCount(files []IncomingFile) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: please select at least one file to upload", ErrValidation)
	}

	var images, documents int
	for _, file := range files {
		ext := normaliseExtension(file.Filename)
		switch {
		case imageExtensions[ext]:
			images++
		case documentExtensions[ext]:
			documents++
		}
	}
	if images > s.limits.MaxImages || documents > s.limits.MaxDocuments {
		return fmt.Errorf("%w: too many files, up to %d photos and %d files per message",
			ErrValidation, s.limits.MaxImages, s.limits.MaxDocuments)
	}
	return nil
}

func (s *Service) classify(filename string) (models.FileType, int64, error) {
	ext := normaliseExtension(filename)
	switch {
	case imageExtensions[ext]:
		return models.FileTypeImage, s.limits.MaxImageBytes, nil
	case documentExtensions[ext]:
		return models.FileTypeDocument, s.limits.MaxDocumentBytes, nil
	default:
		return "", 0, fmt.Errorf("%w: unsupported file type, allowed: %s", ErrValidation, allowedTypesHint)
	}
}

// removeFileQuietly deletes best effort; stale files are acceptable in
// failure cases.
func removeFileQuietly(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn(context.Background(), "Failed to remove upload file", "path", path, "err", err)
	}
}
