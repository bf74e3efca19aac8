package extract

import (
	"context"
	"os"
	"strings"

	"minirag/internal/domain"
)

// Text reads a UTF-8 text file as a single page. Invalid byte sequences are dropped.
func Text(_ context.Context, path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []domain.Page{{Number: 1, Text: strings.ToValidUTF8(string(data), "")}}, nil
}
