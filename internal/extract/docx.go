package extract

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/fumiama/go-docx"

	"minirag/internal/domain"
)

var errNoDocumentXML = errors.New("word/document.xml not found")

// DOCX reads the body of an Office Open XML document as a single page: one
// line per paragraph and one tab-separated line per table row. Empty lines
// are skipped.
func DOCX(_ context.Context, path string) ([]domain.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, err
	}
	// XMLW is only filled in when word/document.xml was decoded.
	if doc.Document.XMLW == "" {
		return nil, errNoDocumentXML
	}

	var lines []string
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			lines = appendLine(lines, paragraphText(it))
		case *docx.Table:
			lines = appendTable(lines, it)
		}
	}
	return []domain.Page{{Number: 1, Text: strings.Join(lines, "\n")}}, nil
}

func appendLine(lines []string, text string) []string {
	if strings.TrimSpace(text) == "" {
		return lines
	}
	return append(lines, text)
}

func appendTable(lines []string, t *docx.Table) []string {
	for _, row := range t.TableRows {
		cells := make([]string, 0, len(row.TableCells))
		for _, cell := range row.TableCells {
			parts := make([]string, 0, len(cell.Paragraphs))
			for _, p := range cell.Paragraphs {
				if text := strings.TrimSpace(paragraphText(p)); text != "" {
					parts = append(parts, text)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
			for _, nested := range cell.Tables {
				lines = appendTable(lines, nested)
			}
		}
		lines = appendLine(lines, strings.Join(cells, "\t"))
	}
	return lines
}

// paragraphText concatenates run text, including hyperlink runs. Tabs and
// breaks become whitespace so neighbouring words stay apart.
func paragraphText(p *docx.Paragraph) string {
	var b strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&b, c)
		case *docx.Hyperlink:
			writeRun(&b, &c.Run)
		}
	}
	return b.String()
}

func writeRun(b *strings.Builder, r *docx.Run) {
	for _, child := range r.Children {
		switch c := child.(type) {
		case *docx.Text:
			b.WriteString(c.Text)
		case *docx.Tab:
			b.WriteByte('\t')
		case *docx.BarterRabbet:
			b.WriteByte('\n')
		}
	}
}
