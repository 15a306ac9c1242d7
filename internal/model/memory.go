// Package model defines the core memory data types.
package model

import "time"

// Category classifies core facts and knowledge snippets.
type Category string

const (
	CategoryIdentity    Category = "identity"
	CategoryInstruction Category = "instruction"
	CategoryPreference  Category = "preference"
	CategoryProject     Category = "project"
	CategoryPersonal    Category = "personal"
	CategoryFact        Category = "fact"
	CategoryTechnical   Category = "technical"
)

// CategoryOrder is the fixed rendering priority of the core prompt section.
var CategoryOrder = []Category{
	CategoryIdentity,
	CategoryInstruction,
	CategoryPreference,
	CategoryProject,
	CategoryPersonal,
	CategoryFact,
	CategoryTechnical,
}

// ValidCategories are the allowed categories.
var ValidCategories = map[Category]bool{
	CategoryIdentity:    true,
	CategoryInstruction: true,
	CategoryPreference:  true,
	CategoryProject:     true,
	CategoryPersonal:    true,
	CategoryFact:        true,
	CategoryTechnical:   true,
}

// Source records how a knowledge snippet entered the store.
type Source string

const (
	SourceExplicit   Source = "explicit"
	SourceExtracted  Source = "extracted"
	SourceReflection Source = "reflection"
)

// ValidSources are the allowed knowledge sources.
var ValidSources = map[Source]bool{
	SourceExplicit:   true,
	SourceExtracted:  true,
	SourceReflection: true,
}

// CoreFact is an always-loaded statement injected into every prompt.
type CoreFact struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Category   Category  `json:"category"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Active     bool      `json:"active"`
}

// Knowledge is a snippet retrieved on demand.
type Knowledge struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	Category    Category  `json:"category"`
	Importance  float64   `json:"importance"`
	Source      Source    `json:"source"`
	Tags        []string  `json:"tags,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Embedding   []float32 `json:"-"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the snippet carries a vector.
func (k Knowledge) HasEmbedding() bool { return len(k.Embedding) > 0 }

// Episode is the immutable summary of one finished conversation.
type Episode struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Summary      string    `json:"summary"`
	Topics       []string  `json:"topics"`
	Takeaways    []string  `json:"takeaways"`
	MessageCount int       `json:"message_count"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// BackupRecord describes one snapshot of the store file.
type BackupRecord struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Version   int       `json:"version"`
}

// Turn is one message of a conversation handed to reflection.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ClampImportance bounds an importance value to [0, 1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
