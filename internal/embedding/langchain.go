package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainEmbedder wraps langchaingo embeddings for Ollama and
// OpenAI-compatible servers, enforcing the configured dimension.
type LangChainEmbedder struct {
	model  embeddings.Embedder
	name   string
	dims   int
	logger *slog.Logger
}

// NewLangChainEmbedder creates an embedder for cfg.Provider (ollama or openai).
// Default models: nomic-embed-text for Ollama, text-embedding-3-small for OpenAI.
func NewLangChainEmbedder(cfg Config, logger *slog.Logger) (*LangChainEmbedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var client embeddings.EmbedderClient
	name := cfg.Model
	switch cfg.Provider {
	case ProviderOllama:
		if name == "" {
			name = "nomic-embed-text"
		}
		url := cfg.URL
		if url == "" {
			url = os.Getenv("OLLAMA_HOST")
		}
		opts := []ollama.Option{ollama.WithModel(name)}
		if url != "" {
			opts = append(opts, ollama.WithServerURL(url))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		client = llm
	case ProviderOpenAI:
		if name == "" {
			name = "text-embedding-3-small"
		}
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai embedding provider requires an API key")
		}
		opts := []openai.Option{openai.WithToken(key), openai.WithEmbeddingModel(name)}
		if cfg.URL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.URL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("langchain embedder does not support provider %q", cfg.Provider)
	}

	model, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.Provider, err)
	}
	return &LangChainEmbedder{model: model, name: name, dims: cfg.Dims, logger: logger}, nil
}

func (e *LangChainEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	start := time.Now()
	v, err := e.model.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed", "model", e.name, "text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if err := checkDims(v, e.dims); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (e *LangChainEmbedder) Dims() int { return e.dims }
