package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDims matches the all-MiniLM output size so stores can switch
// between the local model and MiniLM without a schema change.
const DefaultHashDims = 384

// HashEmbedder is the offline embedding model. It feature-hashes lowercased
// words and their character trigrams into a fixed number of buckets and
// normalizes the result, so texts sharing vocabulary land close together.
// Output is deterministic for a given input and dimension.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	v := make(Vector, h.dims)
	for _, word := range Words(text) {
		h.add(v, word, 1.0)
		padded := "#" + word + "#"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(v, string(runes[i:i+3]), 0.5)
		}
	}
	return Normalize(v), nil
}

func (h *HashEmbedder) Dims() int { return h.dims }

func (h *HashEmbedder) add(v Vector, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// Words splits text into lowercased alphanumeric tokens.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
