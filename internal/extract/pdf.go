package extract

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"minirag/internal/domain"
)

// PDF returns one page per PDF page, numbered from 1. Pages without a text
// layer come back with empty text.
func PDF(ctx context.Context, path string) (pages []domain.Page, err error) {
	defer func() {
		// The parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			pages, err = nil, panicError{r}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]domain.Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, domain.Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		pages = append(pages, domain.Page{Number: i, Text: text})
	}
	return pages, nil
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("parser panic: %v", p.v) }
