// Package extract reads page texts out of supported document formats.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"minirag/internal/domain"
)

// ParseFunc extracts pages from the file at path.
type ParseFunc func(ctx context.Context, path string) ([]domain.Page, error)

// Extractor dispatches on the lower-cased file extension.
type Extractor struct {
	parsers map[string]ParseFunc
}

var _ domain.Extractor = (*Extractor)(nil)

// New returns an Extractor for .txt, .pdf, .docx and .doc files.
func New() *Extractor {
	return &Extractor{parsers: map[string]ParseFunc{
		".txt":  Text,
		".pdf":  PDF,
		".docx": DOCX,
		".doc":  DOCX,
	}}
}

// Supported reports whether path has an extension the extractor handles.
func (e *Extractor) Supported(path string) bool {
	_, ok := e.parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists handled extensions.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.parsers))
	for ext := range e.parsers {
		out = append(out, ext)
	}
	return out
}

// Extract returns the ordered pages of the document at path.
func (e *Extractor) Extract(ctx context.Context, path string) ([]domain.Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	parse, ok := e.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrExtraction, path, err)
	}
	pages, err := parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrExtraction, path, err)
	}
	return pages, nil
}
