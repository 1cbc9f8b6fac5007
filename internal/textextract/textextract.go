// Package textextract implements the black-box "extract plain text from
// bytes" collaborator named in the specification: a plain read for .txt
// files, extraction through a PDFReader for .pdf, selected by extension.
package textextract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor pulls the full text content out of a file on disk.
type Extractor interface {
	Extract(path string) (string, error)
}

// PDFReader extracts page text from a PDF's raw bytes. Swappable so a real
// PDF library can replace the stub without touching callers — PDF parsing
// itself is named a black-box collaborator by the specification.
type PDFReader interface {
	ExtractText(data []byte) (string, error)
}

// FileExtractor is the concrete Extractor: direct read for .txt,
// delegation to a PDFReader for .pdf, grounded on
// original_source/backend/analyzer.py's extract_text.
type FileExtractor struct {
	PDF PDFReader
}

// New returns a FileExtractor using pdf as its PDF collaborator. A nil pdf
// means .pdf files always fail extraction with a clear error rather than
// panicking.
func New(pdf PDFReader) *FileExtractor {
	return &FileExtractor{PDF: pdf}
}

func (e *FileExtractor) Extract(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("textextract: reading %q: %w", path, err)
		}
		return string(data), nil
	case ".pdf":
		if e.PDF == nil {
			return "", fmt.Errorf("textextract: no PDF reader configured for %q", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("textextract: reading %q: %w", path, err)
		}
		text, err := e.PDF.ExtractText(data)
		if err != nil {
			return "", fmt.Errorf("textextract: extracting PDF %q: %w", path, err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("textextract: unsupported extension for %q", path)
	}
}
