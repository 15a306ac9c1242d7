package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChainGenerator wraps a langchaingo model (OpenAI or Ollama).
type LangChainGenerator struct {
	llm       llms.Model
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewLangChainGenerator creates a generator for the openai or ollama provider.
func NewLangChainGenerator(cfg Config, logger *slog.Logger) (*LangChainGenerator, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOllama:
		name := cfg.Model
		if name == "" {
			name = "llama3.1"
		}
		url := cfg.URL
		if url == "" {
			url = os.Getenv("OLLAMA_HOST")
		}
		opts := []ollama.Option{ollama.WithModel(name)}
		if url != "" {
			opts = append(opts, ollama.WithServerURL(url))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		cfg.Model = name

	case ProviderOpenAI:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		opts := []openai.Option{openai.WithToken(key), openai.WithModel(cfg.Model)}
		if cfg.URL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.URL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &LangChainGenerator{llm: model, model: cfg.Model, maxTokens: cfg.MaxTokens, logger: logger}, nil
}

func (g *LangChainGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	response, err := g.llm.GenerateContent(ctx, messages, llms.WithMaxTokens(g.maxTokens))
	if err != nil {
		g.logger.Warn("generation failed", "model", g.model, "error", err)
		return "", fmt.Errorf("generate with system: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}
