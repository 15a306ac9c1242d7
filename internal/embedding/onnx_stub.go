//go:build !onnx

package embedding

import (
	"errors"
	"log/slog"
)

// NewONNXEmbedder is unavailable unless the binary is built with -tags onnx.
func NewONNXEmbedder(Config, *slog.Logger) (Embedder, error) {
	return nil, errors.New("onnx embedder not compiled in (build with -tags onnx)")
}
