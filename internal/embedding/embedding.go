// Package embedding provides the vector embedder used for semantic memory search.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// ErrDimensionMismatch is returned when two vectors (or a vector and an
// embedder) disagree on dimensionality.
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

// CosineSimilarity computes cosine similarity between two vectors of equal
// dimension. A zero vector has similarity 0 with everything.
func CosineSimilarity(a, b Vector) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// Normalize returns v scaled to unit length. Zero vectors are returned as-is.
func Normalize(v Vector) Vector {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func checkDims(v Vector, dims int) error {
	if dims > 0 && len(v) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dims)
	}
	return nil
}

// Provider names accepted by New.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
)

// DefaultONNXDims is the output size of all-MiniLM-L6-v2.
const DefaultONNXDims = 384

// Config selects and configures an embedding provider.
type Config struct {
	Provider string
	Model    string
	Dims     int
	URL      string
	APIKey   string

	// CacheSize bounds the number of cached query embeddings; 0 disables caching.
	CacheSize int

	// ONNX-only settings.
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
}

// New creates an embedder from configuration. Provider "none" returns a nil
// Embedder, which disables semantic search. Model loading is deferred until
// the first Embed call.
func New(cfg Config, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var e Embedder
	switch cfg.Provider {
	case ProviderNone:
		return nil, nil
	case ProviderLocal, "":
		dims := cfg.Dims
		if dims == 0 {
			dims = DefaultHashDims
		}
		e = NewLazy(dims, func(context.Context) (Embedder, error) {
			return NewHashEmbedder(dims), nil
		}, logger)
	case ProviderOllama, ProviderOpenAI:
		if cfg.Dims == 0 {
			return nil, fmt.Errorf("embedding provider %s requires dims", cfg.Provider)
		}
		e = NewLazy(cfg.Dims, func(context.Context) (Embedder, error) {
			return NewLangChainEmbedder(cfg, logger)
		}, logger)
	case ProviderONNX:
		dims := cfg.Dims
		if dims == 0 {
			dims = DefaultONNXDims
		}
		e = NewLazy(dims, func(context.Context) (Embedder, error) {
			return NewONNXEmbedder(cfg, logger)
		}, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCached(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return e, nil
}
