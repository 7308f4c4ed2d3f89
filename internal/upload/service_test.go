package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baobabted/AI-Coding-Tutor/internal/models"
)

// fakeStore records saved uploads in memory.
type fakeStore struct {
	saved        []*models.UploadedFile
	failAfter    int // fail SaveUpload once this many saves succeeded, -1 never
	expiredPaths []string
	sweeps       int
}

func newFakeStore() *fakeStore { return &fakeStore{failAfter: -1} }

func (f *fakeStore) SaveUpload(_ context.Context, file *models.UploadedFile) error {
	if f.failAfter >= 0 && len(f.saved) >= f.failAfter {
		return assert.AnError
	}
	f.saved = append(f.saved, file)
	return nil
}

func (f *fakeStore) DeleteExpiredUploads(context.Context, time.Time) ([]string, error) {
	f.sweeps++
	paths := f.expiredPaths
	f.expiredPaths = nil
	return paths, nil
}

func (f *fakeStore) GetUserUploadsByIDs(_ context.Context, userID uuid.UUID, ids []uuid.UUID, _ time.Time) ([]models.UploadedFile, error) {
	byID := make(map[uuid.UUID]*models.UploadedFile)
	for _, item := range f.saved {
		if item.UserID == userID {
			byID[item.ID] = item
		}
	}
	var out []models.UploadedFile
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserUpload(_ context.Context, userID, id uuid.UUID, _ time.Time) (*models.UploadedFile, error) {
	for _, item := range f.saved {
		if item.ID == id && item.UserID == userID {
			return item, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeleteUpload(_ context.Context, userID, id uuid.UUID) (*models.UploadedFile, error) {
	for i, item := range f.saved {
		if item.ID == id && item.UserID == userID {
			f.saved = append(f.saved[:i], f.saved[i+1:]...)
			return item, nil
		}
	}
	return nil, nil
}

func testLimits() Limits {
	return Limits{
		MaxImages:         2,
		MaxDocuments:      2,
		MaxImageBytes:     1024,
		MaxDocumentBytes:  1024,
		MaxDocumentTokens: 100,
	}
}

func newTestService(t *testing.T) (*Service, *fakeStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := newFakeStore()
	return NewService(store, dir, testLimits(), 24*time.Hour), store, dir
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSaveFiles(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("SavesImageAndDocument", func(t *testing.T) {
		t.Parallel()
		svc, store, dir := newTestService(t)

		saved, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "shot.PNG", ContentType: "image/png", Content: []byte("imgdata")},
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("some notes")},
		})
		require.NoError(t, err)
		require.Len(t, saved, 2)

		assert.Equal(t, models.FileTypeImage, saved[0].FileType)
		assert.Nil(t, saved[0].ExtractedText)
		assert.True(t, strings.HasSuffix(saved[0].StoredFilename, ".png"))

		assert.Equal(t, models.FileTypeDocument, saved[1].FileType)
		require.NotNil(t, saved[1].ExtractedText)
		assert.Equal(t, "some notes", *saved[1].ExtractedText)

		assert.Len(t, store.saved, 2)
		assert.Len(t, storedFiles(t, dir), 2)
		assert.Equal(t, 1, store.sweeps)
	})

	t.Run("RejectsEmptyBatch", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)
		_, err := svc.SaveFiles(context.Background(), userID, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("RejectsUnsupportedExtension", func(t *testing.T) {
		t.Parallel()
		svc, _, dir := newTestService(t)
		_, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "malware.exe", Content: []byte("x")},
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, storedFiles(t, dir))
	})

	t.Run("RejectsEmptyFile", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)
		_, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "empty.txt", Content: nil},
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("RejectsOversizeFile", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)
		_, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "big.png", Content: make([]byte, 2048)},
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("RejectsTooManyImages", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)
		files := []IncomingFile{
			{Filename: "a.png", Content: []byte("a")},
			{Filename: "b.png", Content: []byte("b")},
			{Filename: "c.png", Content: []byte("c")},
		}
		_, err := svc.SaveFiles(context.Background(), userID, files)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("RejectsOversizeDocumentText", func(t *testing.T) {
		t.Parallel()
		svc, _, dir := newTestService(t)
		// 100-token cap; 800 chars is ~200 tokens.
		_, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "huge.txt", Content: []byte(strings.Repeat("x", 800))},
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, storedFiles(t, dir))
	})

	t.Run("BatchIsAtomic", func(t *testing.T) {
		t.Parallel()
		svc, store, dir := newTestService(t)

		_, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "ok.png", Content: []byte("img")},
			{Filename: "bad.exe", Content: []byte("x")},
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, storedFiles(t, dir), "files written before the failure must be removed")
		assert.Empty(t, store.saved)
	})

	t.Run("StoreFailureCleansUp", func(t *testing.T) {
		t.Parallel()
		svc, store, dir := newTestService(t)
		store.failAfter = 1

		_, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
			{Filename: "a.png", Content: []byte("a")},
			{Filename: "b.png", Content: []byte("b")},
		})
		require.Error(t, err)
		assert.Empty(t, storedFiles(t, dir))
	})

	t.Run("SweepRemovesExpiredFiles", func(t *testing.T) {
		t.Parallel()
		svc, store, dir := newTestService(t)

		stale := filepath.Join(dir, "stale.png")
		require.NoError(t, os.WriteFile(stale, []byte("old"), 0640))
		store.expiredPaths = []string{stale, filepath.Join(dir, "already-gone.txt")}

		svc.SweepExpired(context.Background())
		assert.NoFileExists(t, stale)
	})
}

func TestExtractDocumentText(t *testing.T) {
	t.Parallel()

	t.Run("PlainText", func(t *testing.T) {
		t.Parallel()
		text, err := ExtractDocumentText("main.py", []byte("print('hi')\n"))
		require.NoError(t, err)
		assert.Equal(t, "print('hi')", text)
	})

	t.Run("Latin1Fallback", func(t *testing.T) {
		t.Parallel()
		// 0xE9 is é in latin-1 and invalid as standalone utf-8.
		text, err := ExtractDocumentText("notes.txt", []byte{'c', 'a', 'f', 0xE9})
		require.NoError(t, err)
		assert.Equal(t, "café", text)
	})

	t.Run("NotebookConcatenatesCells", func(t *testing.T) {
		t.Parallel()
		nb := `{"cells":[
			{"source":["import os\n","print(os.getcwd())"]},
			{"source":"x = 1"},
			{"source":[]}
		]}`
		text, err := ExtractDocumentText("analysis.ipynb", []byte(nb))
		require.NoError(t, err)
		assert.Equal(t, "import os\nprint(os.getcwd())\n\nx = 1", text)
	})

	t.Run("InvalidNotebookRejected", func(t *testing.T) {
		t.Parallel()
		_, err := ExtractDocumentText("bad.ipynb", []byte("not json"))
		assert.Error(t, err)
	})
}

func TestAttachmentPayload(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	p := AttachmentPayload(&models.UploadedFile{
		ID:               id,
		OriginalFilename: "shot.png",
		ContentType:      "image/png",
		FileType:         models.FileTypeImage,
	})
	assert.Equal(t, id.String(), p.ID)
	assert.Equal(t, "shot.png", p.Filename)
	assert.Equal(t, "/api/upload/"+id.String()+"/content", p.URL)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	svc, store, dir := newTestService(t)
	userID := uuid.New()

	saved, err := svc.SaveFiles(context.Background(), userID, []IncomingFile{
		{Filename: "a.png", Content: []byte("a")},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Len(t, storedFiles(t, dir), 1)

	require.NoError(t, svc.Delete(context.Background(), userID, saved[0].ID))
	assert.Empty(t, storedFiles(t, dir))
	assert.Empty(t, store.saved)
}
