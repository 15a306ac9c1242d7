//go:build onnx

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxSeqLen = 128
	clsToken   = 101
	sepToken   = 102
	unkToken   = 100
)

// ONNXEmbedder runs an all-MiniLM style sentence encoder locally through
// ONNX Runtime. Outputs are mean-pooled over attended tokens and normalized.
type ONNXEmbedder struct {
	session *ort.DynamicAdvancedSession
	vocab   map[string]int
	dims    int
	logger  *slog.Logger
}

// NewONNXEmbedder loads the runtime, vocabulary and model. It is expensive
// and is normally called through Lazy.
func NewONNXEmbedder(cfg Config, logger *slog.Logger) (Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedder requires a model path")
	}
	dims := cfg.Dims
	if dims == 0 {
		dims = DefaultONNXDims
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	logger.Info("onnx embedding model loaded", "model", cfg.ModelPath, "dims", dims)
	return &ONNXEmbedder{session: session, vocab: vocab, dims: dims, logger: logger}, nil
}

func (e *ONNXEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	ids := make([]int64, onnxSeqLen)
	mask := make([]int64, onnxSeqLen)
	types := make([]int64, onnxSeqLen)

	tokens := e.tokenize(text)
	if len(tokens) > onnxSeqLen-2 {
		tokens = tokens[:onnxSeqLen-2]
	}
	ids[0], mask[0] = clsToken, 1
	for i, t := range tokens {
		ids[i+1], mask[i+1] = t, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepToken, 1

	shape := ort.NewShape(1, onnxSeqLen)
	inputs := make([]ort.Value, 0, 3)
	for _, data := range [][]int64{ids, mask, types} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		defer t.Destroy()
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	data := out.GetData()
	outShape := out.GetShape()
	if len(outShape) != 3 || int(outShape[2]) != e.dims {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}

	pooled := make(Vector, e.dims)
	var attended float32
	for i := 0; i < int(outShape[1]); i++ {
		if mask[i] == 0 {
			continue
		}
		attended++
		row := data[i*e.dims : (i+1)*e.dims]
		for j, x := range row {
			pooled[j] += x
		}
	}
	for j := range pooled {
		pooled[j] /= attended
	}
	return Normalize(pooled), nil
}

func (e *ONNXEmbedder) Dims() int { return e.dims }

// Close releases the ONNX session.
func (e *ONNXEmbedder) Close() error {
	return e.session.Destroy()
}

// tokenize performs lowercase WordPiece tokenization against the vocabulary.
func (e *ONNXEmbedder) tokenize(text string) []int64 {
	var out []int64
	for _, word := range Words(text) {
		if id, ok := e.vocab[word]; ok {
			out = append(out, int64(id))
			continue
		}
		start := 0
		for start < len(word) {
			end := len(word)
			matched := false
			for end > start {
				piece := word[start:end]
				if start > 0 {
					piece = "##" + piece
				}
				if id, ok := e.vocab[piece]; ok {
					out = append(out, int64(id))
					matched = true
					break
				}
				end--
			}
			if !matched {
				out = append(out, unkToken)
				break
			}
			start = end
		}
	}
	return out
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	if len(tok.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has no vocabulary", strings.TrimSpace(path))
	}
	return tok.Model.Vocab, nil
}
