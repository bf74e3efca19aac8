package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"minirag/internal/domain"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultContextTokens bounds the CONTEXT section of the prompt.
	DefaultContextTokens = 3000

	systemPrompt = "Use only the information in CONTEXT. If CONTEXT does not contain the answer, reply exactly: " + domain.InsufficientContext
)

// ErrAPIKeyNotSet is returned when no chat API key is configured.
var ErrAPIKeyNotSet = errors.New("LLM API key not set")

// LLMConfig configures the OpenAI-compatible chat answerer.
type LLMConfig struct {
	BaseURL       string
	APIKeyEnv     string
	APIKey        string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	ContextTokens int
	Encoding      string
}

// LLM answers with a chat completion grounded on the retrieved context. Any
// API failure or empty completion falls back to the extractive answer.
type LLM struct {
	client   openai.Client
	model    string
	temp     float64
	budget   int
	counter  TokenCounter
	fallback domain.Answerer
	logger   *slog.Logger
}

var _ domain.Answerer = (*LLM)(nil)

// NewLLM builds the answerer. A nil counter loads a tiktoken encoding.
func NewLLM(cfg LLMConfig, counter TokenCounter, logger *slog.Logger) (*LLM, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: set %s", ErrAPIKeyNotSet, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = DefaultContextTokens
	}
	if counter == nil {
		tc, err := NewTiktokenCounter(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		counter = tc
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	return &LLM{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		temp:     cfg.Temperature,
		budget:   cfg.ContextTokens,
		counter:  counter,
		fallback: NewExtractive(),
		logger:   logger,
	}, nil
}

// Model returns the chat model name.
func (l *LLM) Model() string { return l.model }

func (l *LLM) Answer(ctx context.Context, question string, chunks []string) (string, error) {
	chunks = nonEmpty(chunks)
	if len(chunks) == 0 {
		return domain.InsufficientContext, nil
	}
	kept := fitBudget(chunks, l.counter, l.budget)
	if len(kept) < len(chunks) {
		l.logger.Debug("context trimmed to token budget", "kept", len(kept), "retrieved", len(chunks), "budget", l.budget)
	}

	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(question, kept)),
		},
		Temperature: openai.Float(l.temp),
	})
	if err != nil {
		l.logger.Warn("llm answer failed, using extractive answer", "model", l.model, "error", err)
		return l.fallback.Answer(ctx, question, chunks)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		l.logger.Warn("llm returned an empty answer, using extractive answer", "model", l.model)
		return l.fallback.Answer(ctx, question, chunks)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Prompt renders the user message sent to the model.
func Prompt(question string, chunks []string) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	b.WriteString(strings.Join(chunks, "\n\n"))
	b.WriteString("\n\nQUESTION: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}
