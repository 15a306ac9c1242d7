package corecontext

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the model token cost of a text.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates one token per four characters.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// TiktokenCounter counts with a BPE encoding loaded on first use. If the
// encoding cannot be loaded it falls back to ApproxCounter.
type TiktokenCounter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the named encoding
// (cl100k_base when empty).
func NewTiktokenCounter(encoding string, logger *slog.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("token encoding unavailable, using approximation", "encoding", c.encoding, "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return ApproxCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
