package answer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used by current OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// TokenCounter measures prompt text against a model's context budget.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens exactly with a tiktoken encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. The BPE ranks are fetched on
// first use and cached by tiktoken-go.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateCounter approximates three runes per token without a tokenizer.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + 2) / 3
}

// fitBudget keeps chunks in rank order while their total stays within
// budget. The top chunk is always kept.
func fitBudget(chunks []string, counter TokenCounter, budget int) []string {
	if budget <= 0 || len(chunks) == 0 {
		return chunks
	}
	out := []string{chunks[0]}
	used := counter.Count(chunks[0])
	for _, c := range chunks[1:] {
		n := counter.Count(c)
		if used+n > budget {
			break
		}
		out = append(out, c)
		used += n
	}
	return out
}
