package answer

import (
	"fmt"
	"log/slog"
	"strings"

	"minirag/internal/domain"
)

const (
	ModeAuto       = "auto"
	ModeLLM        = "llm"
	ModeExtractive = "extractive"
)

// Selection is the answerer chosen at startup and why.
type Selection struct {
	Answerer domain.Answerer
	// Backend is "llm" or "extractive".
	Backend string
	// InitErr is set when an LLM was wanted but could not be built.
	InitErr error
}

// Select builds the answerer for mode once. Modes auto and llm fall back to
// the extractive answerer when the LLM cannot be constructed.
func Select(mode string, cfg LLMConfig, counter TokenCounter, logger *slog.Logger) Selection {
	if logger == nil {
		logger = slog.Default()
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeAuto
	}
	switch mode {
	case ModeExtractive:
		return Selection{Answerer: NewExtractive(), Backend: ModeExtractive}
	case ModeAuto, ModeLLM:
		llm, err := NewLLM(cfg, counter, logger)
		if err == nil {
			logger.Info("answerer selected", "backend", ModeLLM, "model", llm.Model())
			return Selection{Answerer: llm, Backend: ModeLLM}
		}
		if mode == ModeLLM {
			logger.Warn("llm answerer unavailable, using extractive answerer", "error", err)
		} else {
			logger.Info("answerer selected", "backend", ModeExtractive, "reason", err)
		}
		return Selection{Answerer: NewExtractive(), Backend: ModeExtractive, InitErr: err}
	default:
		err := fmt.Errorf("%w: unknown answerer mode %q", domain.ErrInvalidParameter, mode)
		return Selection{Answerer: NewExtractive(), Backend: ModeExtractive, InitErr: err}
	}
}
