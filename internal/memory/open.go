package memory

import (
	"fmt"
	"log/slog"

	"github.com/rcliao/tiermem/internal/backup"
	"github.com/rcliao/tiermem/internal/config"
	"github.com/rcliao/tiermem/internal/corecontext"
	"github.com/rcliao/tiermem/internal/embedding"
	"github.com/rcliao/tiermem/internal/llm"
	"github.com/rcliao/tiermem/internal/reflection"
	"github.com/rcliao/tiermem/internal/retrieval"
	"github.com/rcliao/tiermem/internal/store"
)

// TokenEncoding is the tiktoken encoding used to size the core section.
const TokenEncoding = "cl100k_base"

// Open builds a Memory from configuration. A text generator that cannot
// be configured (typically a missing API key) disables reflection with a
// warning instead of failing.
func Open(cfg *config.Config, logger *slog.Logger) (*Memory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	emb, err := embedding.New(embedding.Config{
		Provider:      cfg.Embedding.Provider,
		Model:         cfg.Embedding.Model,
		Dims:          cfg.Embedding.Dims,
		URL:           cfg.Embedding.URL,
		APIKey:        cfg.Embedding.APIKey,
		CacheSize:     cfg.Embedding.CacheSize,
		ModelPath:     cfg.Embedding.ModelPath,
		TokenizerPath: cfg.Embedding.TokenizerPath,
		LibraryPath:   cfg.Embedding.LibraryPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	gen, err := llm.New(llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		URL:       cfg.LLM.URL,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		logger.Warn("text generator unavailable, reflection disabled", "provider", cfg.LLM.Provider, "error", err)
		gen = nil
	}

	opts := store.Options{
		MaxRetries:  cfg.Store.MaxRetries,
		RetryDelay:  cfg.Store.RetryDelay,
		BusyTimeout: cfg.Store.BusyTimeout,
		Logger:      logger,
	}
	if emb != nil {
		opts.EmbeddingDims = emb.Dims()
	}
	s, err := store.Open(cfg.Store.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	m, err := New(Deps{
		Store:        s,
		StoreOptions: opts,
		Embedder:     emb,
		Generator:    gen,
		TokenCounter: corecontext.NewTiktokenCounter(TokenEncoding, logger),
		Backup: backup.Config{
			Dir:      cfg.Backup.Dir,
			MaxAge:   cfg.Backup.MaxAge,
			MaxCount: cfg.Backup.MaxCount,
			Interval: cfg.Backup.Interval,
		},
		AutoBackup: cfg.Backup.Auto,
		Retrieval: retrieval.Options{
			KeywordFloor:         retrieval.Floor(cfg.Retrieval.KeywordFloor),
			SpecificKeywordFloor: retrieval.Floor(cfg.Retrieval.SpecificKeywordFloor),
		},
		Reflection:   reflection.Options{MaxChars: cfg.Reflection.MaxChars},
		DefaultLimit: cfg.Retrieval.DefaultLimit,
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return m, nil
}
