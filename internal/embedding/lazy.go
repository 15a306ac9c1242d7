package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loader constructs the underlying embedder on first use.
type Loader func(ctx context.Context) (Embedder, error)

// Lazy defers model loading until the first Embed call. Concurrent callers
// during the load wait for the same in-flight initialization. A failed load
// is remembered and returned to every later caller.
type Lazy struct {
	dims   int
	load   Loader
	logger *slog.Logger

	once  sync.Once
	inner Embedder
	err   error
}

// NewLazy wraps a loader. dims is reported by Dims before the model loads
// and is enforced on the loaded model.
func NewLazy(dims int, load Loader, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lazy{dims: dims, load: load, logger: logger}
}

func (l *Lazy) init(ctx context.Context) error {
	l.once.Do(func() {
		start := time.Now()
		// The load outlives the first caller's cancellation since every
		// other caller is waiting on it.
		inner, err := l.load(context.WithoutCancel(ctx))
		if err != nil {
			l.err = fmt.Errorf("load embedding model: %w", err)
			l.logger.Error("embedding model failed to load", "error", err)
			return
		}
		if l.dims > 0 && inner.Dims() != l.dims {
			l.err = fmt.Errorf("load embedding model: %w: model has %d, configured %d",
				ErrDimensionMismatch, inner.Dims(), l.dims)
			l.logger.Error("embedding model dimension mismatch", "model_dims", inner.Dims(), "dims", l.dims)
			return
		}
		l.inner = inner
		l.logger.Debug("embedding model loaded", "dims", inner.Dims(), "duration_ms", time.Since(start).Milliseconds())
	})
	return l.err
}

// Ready forces initialization and reports the load error, if any.
func (l *Lazy) Ready(ctx context.Context) error {
	return l.init(ctx)
}

func (l *Lazy) Embed(ctx context.Context, text string) (Vector, error) {
	if err := l.init(ctx); err != nil {
		return nil, err
	}
	v, err := l.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := checkDims(v, l.dims); err != nil {
		return nil, err
	}
	return v, nil
}

func (l *Lazy) Dims() int { return l.dims }
