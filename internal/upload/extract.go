package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ExtractDocumentText pulls plain text out of a document upload. PDFs go
// through the page extractor, notebooks concatenate their cell sources, and
// everything else is decoded as text.
func ExtractDocumentText(filename string, content []byte) (string, error) {
	switch normaliseExtension(filename) {
	case ".pdf":
		return extractPDFText(content)
	case ".ipynb":
		return extractNotebookText(content)
	default:
		return strings.TrimSpace(decodeTextBytes(content)), nil
	}
}

// decodeTextBytes tries utf-8, then utf-16 (either byte order), then
// latin-1, and finally utf-8 with replacement runes.
func decodeTextBytes(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	utf16Dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	if decoded, err := utf16Dec.Bytes(content); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content); err == nil {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(content), string(utf8.RuneError))
}

func extractPDFText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// notebookCell is the slice of an .ipynb cell we care about. Source is a
// string in some exporters and a line array in others.
type notebookCell struct {
	Source json.RawMessage `json:"source"`
}

type notebook struct {
	Cells []notebookCell `json:"cells"`
}

func extractNotebookText(content []byte) (string, error) {
	var nb notebook
	if err := json.Unmarshal([]byte(decodeTextBytes(content)), &nb); err != nil {
		return "", fmt.Errorf("invalid .ipynb file: %w", err)
	}

	var parts []string
	for _, cell := range nb.Cells {
		if text := strings.TrimSpace(cellSource(cell.Source)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func cellSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func normaliseExtension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
