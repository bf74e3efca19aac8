package chunker

import (
	"fmt"
	"strings"

	"minirag/internal/domain"
)

// Chunker splits page texts into fixed-size overlapping character windows.
// Sizes are measured in runes.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker after checking its parameters.
func New(size, overlap int) (*Chunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Validate checks size > 0 and 0 <= overlap < size.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk_size must be > 0, got %d", domain.ErrInvalidParameter, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidParameter, size, overlap)
	}
	return nil
}

// Normalize collapses every run of whitespace to a single space and trims both ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split normalizes text and cuts it into windows of size runes, each
// starting size-overlap runes after the previous one. The last window may be
// shorter; the tail is never dropped.
func Split(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil, nil
	}
	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) == "" {
			continue
		}
		out = append(out, piece)
	}
	return out, nil
}

// Pages chunks each page independently. Positions restart at 0 on every page.
func (c *Chunker) Pages(source string, pages []domain.Page) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for _, p := range pages {
		pieces, err := Split(p.Text, c.size, c.overlap)
		if err != nil {
			return nil, err
		}
		for idx, piece := range pieces {
			chunks = append(chunks, domain.Chunk{
				Text: piece,
				Meta: domain.ChunkMeta{Source: source, Page: p.Number, Position: idx},
			})
		}
	}
	return chunks, nil
}

// Size returns the window length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }
