// Package store persists the three memory tiers in SQLite.
package store

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rcliao/tiermem/internal/model"
)

var (
	// ErrBusy is returned when a write still hits lock contention after
	// every retry.
	ErrBusy = errors.New("store: database busy")

	// ErrNotFound is returned by single-record lookups.
	ErrNotFound = errors.New("store: not found")

	// ErrEpisodeExists is returned when a session already has an episode.
	ErrEpisodeExists = errors.New("store: episode already exists for session")
)

// Defaults for Options.
const (
	DefaultMaxRetries  = 5
	DefaultRetryDelay  = 50 * time.Millisecond
	DefaultBusyTimeout = 5 * time.Second
)

// Options tunes an opened store.
type Options struct {
	MaxRetries  int
	RetryDelay  time.Duration
	BusyTimeout time.Duration

	// EmbeddingDims, when set, rejects vectors of any other length.
	EmbeddingDims int

	Logger *slog.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CoreFactUpdate holds the fields to change on a core fact. Nil fields are
// left untouched.
type CoreFactUpdate struct {
	Content    *string
	Category   *model.Category
	Importance *float64
}

// Empty reports whether no field is set.
func (u CoreFactUpdate) Empty() bool {
	return u.Content == nil && u.Category == nil && u.Importance == nil
}

// KnowledgeParams holds parameters for storing a knowledge snippet.
type KnowledgeParams struct {
	Content    string
	Category   model.Category
	Importance float64
	Source     model.Source
	Tags       []string
	SessionID  string
	Embedding  []float32
}

// ListParams holds parameters for listing knowledge.
type ListParams struct {
	Category model.Category
	Limit    int
}

// EpisodeParams holds parameters for recording an episode.
type EpisodeParams struct {
	SessionID    string
	Summary      string
	Topics       []string
	Takeaways    []string
	MessageCount int
	StartedAt    time.Time
	EndedAt      time.Time
}

// KeywordHit is a knowledge snippet matched by full-text search. Higher
// scores are better.
type KeywordHit struct {
	Knowledge model.Knowledge
	Score     float64
}
