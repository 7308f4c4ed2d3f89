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

const uploadColumns = `
	id, user_id, original_filename, stored_filename, content_type,
	file_type, size_bytes, storage_path, extracted_text, expires_at, created_at`

// SaveUpload inserts one uploaded file row.
func (q queries) SaveUpload(ctx context.Context, f *models.UploadedFile) error {
	const query = `
		INSERT INTO uploaded_files
			(id, user_id, original_filename, stored_filename, content_type,
			 file_type, size_bytes, storage_path, extracted_text, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := q.db.QueryRow(ctx, query,
		f.ID, f.UserID, f.OriginalFilename, f.StoredFilename, f.ContentType,
		f.FileType, f.SizeBytes, f.StoragePath, f.ExtractedText, f.ExpiresAt,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

// GetUserUploadsByIDs resolves unexpired uploads owned by the user, in the
// order requested. Unknown, foreign, and expired ids are skipped.
func (q queries) GetUserUploadsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, now time.Time) ([]models.UploadedFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + uploadColumns + `
		FROM uploaded_files
		WHERE user_id = $1 AND id = ANY($2::uuid[]) AND expires_at >= $3`

	rows, err := q.db.Query(ctx, query, userID, uuidStrings(ids), now)
	if err != nil {
		return nil, fmt.Errorf("get uploads: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.UploadedFile, len(ids))
	for rows.Next() {
		f, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		byID[f.ID] = *f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ordered []models.UploadedFile
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			ordered = append(ordered, f)
		}
	}
	return ordered, nil
}

// GetUserUpload fetches one owned, unexpired upload; nil when absent.
func (q queries) GetUserUpload(ctx context.Context, userID, id uuid.UUID, now time.Time) (*models.UploadedFile, error) {
	query := `
		SELECT ` + uploadColumns + `
		FROM uploaded_files
		WHERE id = $1 AND user_id = $2 AND expires_at >= $3`

	f, err := scanUpload(q.db.QueryRow(ctx, query, id, userID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return f, nil
}

// DeleteUpload removes one owned upload row and returns it so the caller can
// unlink the file; nil when absent.
func (q queries) DeleteUpload(ctx context.Context, userID, id uuid.UUID) (*models.UploadedFile, error) {
	query := `
		DELETE FROM uploaded_files
		WHERE id = $1 AND user_id = $2
		RETURNING ` + uploadColumns

	f, err := scanUpload(q.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete upload: %w", err)
	}
	return f, nil
}

// DeleteExpiredUploads removes expired rows and returns their storage paths.
func (q queries) DeleteExpiredUploads(ctx context.Context, now time.Time) ([]string, error) {
	const query = `
		DELETE FROM uploaded_files WHERE expires_at < $1
		RETURNING storage_path`

	rows, err := q.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired uploads: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan expired upload: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func scanUpload(row pgx.Row) (*models.UploadedFile, error) {
	var f models.UploadedFile
	err := row.Scan(
		&f.ID, &f.UserID, &f.OriginalFilename, &f.StoredFilename, &f.ContentType,
		&f.FileType, &f.SizeBytes, &f.StoragePath, &f.ExtractedText,
		&f.ExpiresAt, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
