// Package answer turns retrieved context into a reply to the user's question.
package answer

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"minirag/internal/domain"
)

const (
	// MaxExtractiveRunes caps the summary part of an extractive answer.
	MaxExtractiveRunes = 1200

	extractivePrefix = "(extractive) Answer drawn only from the retrieved context."
)

// Extractive is the offline answerer. It ranks context sentences by word
// frequency, boosted by overlap with the question, and returns the best ones
// in their original order.
type Extractive struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
	maxSentences    int
}

var _ domain.Answerer = (*Extractive)(nil)

func NewExtractive() *Extractive {
	return &Extractive{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`),
		stopwords:       defaultStopwords(),
		maxSentences:    5,
	}
}

// Answer never fails; the error is part of the Answerer contract.
func (e *Extractive) Answer(_ context.Context, question string, chunks []string) (string, error) {
	if len(nonEmpty(chunks)) == 0 {
		return domain.InsufficientContext, nil
	}
	summary := truncateRunes(e.Summarize(question, strings.Join(nonEmpty(chunks), "\n"), e.maxSentences), MaxExtractiveRunes)
	return extractivePrefix + "\nQuestion: " + strings.TrimSpace(question) + "\n\nSummary: " + summary, nil
}

// Summarize returns up to maxSentences of text ranked by token frequency.
func (e *Extractive) Summarize(question, text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := e.Sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range e.tokens(sent) {
			if _, ok := e.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	asked := map[string]struct{}{}
	for _, tok := range e.tokens(question) {
		if _, ok := e.stopwords[tok]; !ok {
			asked[tok] = struct{}{}
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := e.tokens(sent)
		s := 0.0
		for _, tok := range toks {
			s += freq[tok]
			if _, ok := asked[tok]; ok {
				s++
			}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			s /= math.Sqrt(l)
		}
		scores[i] = scored{i, s}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	maxSentences = min(maxSentences, len(scores))

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

// Sentences splits text on terminal punctuation. A trailing fragment without
// punctuation counts as a sentence.
func (e *Extractive) Sentences(text string) []string {
	var out []string
	for _, s := range e.sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *Extractive) tokens(text string) []string {
	return e.tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Overlap counts the distinct non-stopword tokens a and b share.
func (e *Extractive) Overlap(a, b string) int {
	seen := map[string]struct{}{}
	for _, tok := range e.tokens(a) {
		if _, ok := e.stopwords[tok]; !ok {
			seen[tok] = struct{}{}
		}
	}
	n := 0
	for _, tok := range e.tokens(b) {
		if _, ok := seen[tok]; ok {
			n++
			delete(seen, tok)
		}
	}
	return n
}

func nonEmpty(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
