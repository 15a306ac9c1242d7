// Package llm provides the text-generation collaborator used by reflection.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Generator produces free text from a system instruction and a user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Provider names accepted by New.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// DefaultMaxTokens bounds a single generation.
const DefaultMaxTokens = 2048

// Config selects and configures a generator.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	URL       string
	MaxTokens int
}

// New creates a Generator from configuration. Provider "none" (or an empty
// provider) returns nil, which disables reflection.
func New(cfg Config, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicGenerator(cfg, logger), nil
	case ProviderOpenAI, ProviderOllama:
		return NewLangChainGenerator(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
