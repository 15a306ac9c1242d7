// Package corecontext assembles the always-loaded prompt section from core facts.
package corecontext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/store"
)

// FactStore is the subset of the store the builder needs.
type FactStore interface {
	AddCoreFact(ctx context.Context, content string, category model.Category, importance float64) (*model.CoreFact, error)
	ListActiveCoreFacts(ctx context.Context) ([]model.CoreFact, error)
	UpdateCoreFact(ctx context.Context, id int64, u store.CoreFactUpdate) (bool, error)
	SetCoreFactActive(ctx context.Context, id int64, active bool) (bool, error)
	DeleteCoreFact(ctx context.Context, id int64) (bool, error)
}

// Heading opens the rendered core section.
const Heading = "# Core Memory"

var categoryTitles = map[model.Category]string{
	model.CategoryIdentity:    "Identity",
	model.CategoryInstruction: "Instructions",
	model.CategoryPreference:  "Preferences",
	model.CategoryProject:     "Projects",
	model.CategoryPersonal:    "Personal",
	model.CategoryFact:        "Facts",
	model.CategoryTechnical:   "Technical",
}

// Builder manages core facts and renders them for the prompt.
type Builder struct {
	store   FactStore
	counter TokenCounter
	logger  *slog.Logger
}

// NewBuilder creates a Builder. A nil counter uses ApproxCounter.
func NewBuilder(s FactStore, counter TokenCounter, logger *slog.Logger) *Builder {
	if counter == nil {
		counter = ApproxCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, counter: counter, logger: logger}
}

// AddFact stores a new active core fact.
func (b *Builder) AddFact(ctx context.Context, content string, category model.Category, importance float64) (*model.CoreFact, error) {
	f, err := b.store.AddCoreFact(ctx, content, category, importance)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("core fact added", "id", f.ID, "category", f.Category)
	return f, nil
}

// GetActiveFacts returns active facts by importance, then creation time.
func (b *Builder) GetActiveFacts(ctx context.Context) ([]model.CoreFact, error) {
	return b.store.ListActiveCoreFacts(ctx)
}

// UpdateFact applies a partial update; an empty update reports false.
func (b *Builder) UpdateFact(ctx context.Context, id int64, u store.CoreFactUpdate) (bool, error) {
	return b.store.UpdateCoreFact(ctx, id, u)
}

// DeactivateFact hides a fact from the prompt without deleting it.
func (b *Builder) DeactivateFact(ctx context.Context, id int64) (bool, error) {
	return b.store.SetCoreFactActive(ctx, id, false)
}

// ReactivateFact makes a deactivated fact visible again.
func (b *Builder) ReactivateFact(ctx context.Context, id int64) (bool, error) {
	return b.store.SetCoreFactActive(ctx, id, true)
}

// DeleteFact removes a fact permanently.
func (b *Builder) DeleteFact(ctx context.Context, id int64) (bool, error) {
	return b.store.DeleteCoreFact(ctx, id)
}

// BuildPromptSection renders active facts grouped by category in a fixed
// order. It returns "" when there are no active facts and never writes.
func (b *Builder) BuildPromptSection(ctx context.Context) (string, error) {
	facts, err := b.store.ListActiveCoreFacts(ctx)
	if err != nil {
		return "", fmt.Errorf("build core section: %w", err)
	}
	return Render(facts), nil
}

// SectionTokens returns the token cost of the current core section.
func (b *Builder) SectionTokens(ctx context.Context) (int, error) {
	section, err := b.BuildPromptSection(ctx)
	if err != nil {
		return 0, err
	}
	return b.counter.Count(section), nil
}

// Render formats facts as the core prompt section. Inactive facts are
// skipped; input order is kept within each category.
func Render(facts []model.CoreFact) string {
	groups := make(map[model.Category][]string)
	for _, f := range facts {
		if !f.Active {
			continue
		}
		groups[f.Category] = append(groups[f.Category], f.Content)
	}
	if len(groups) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(Heading)
	sb.WriteString("\n")
	for _, cat := range model.CategoryOrder {
		items := groups[cat]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n", categoryTitles[cat])
		for _, c := range items {
			sb.WriteString("- ")
			sb.WriteString(strings.ReplaceAll(c, "\n", " "))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
