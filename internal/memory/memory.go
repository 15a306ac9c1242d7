// Package memory is the entry point to the tiered memory engine. It wires
// the store, embedder, retriever, reflection and backups together behind
// one goroutine-safe API.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rcliao/tiermem/internal/backup"
	"github.com/rcliao/tiermem/internal/chunker"
	"github.com/rcliao/tiermem/internal/corecontext"
	"github.com/rcliao/tiermem/internal/embedding"
	"github.com/rcliao/tiermem/internal/episodes"
	"github.com/rcliao/tiermem/internal/llm"
	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/reflection"
	"github.com/rcliao/tiermem/internal/retrieval"
	"github.com/rcliao/tiermem/internal/store"
)

// DefaultImportance is used when a caller gives none.
const DefaultImportance = 0.5

// ErrReflectionDisabled is returned by ReflectAndSummarize when no text
// generator is configured.
var ErrReflectionDisabled = errors.New("memory: reflection disabled, no text generator configured")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memory: closed")

// Deps are the collaborators of a Memory. Store is required; everything
// else is optional.
type Deps struct {
	Store *store.SQLiteStore

	// StoreOptions are reused when the store is reopened after a restore.
	StoreOptions store.Options

	// Embedder enables semantic search and episode recall.
	Embedder embedding.Embedder

	// Generator enables reflection.
	Generator llm.Generator

	TokenCounter corecontext.TokenCounter

	// Backup configures snapshots. StorePath and Checkpoint are filled in.
	Backup     backup.Config
	AutoBackup bool

	Retrieval  retrieval.Options
	Reflection reflection.Options

	// DefaultLimit applies to queries without a limit.
	DefaultLimit int

	Chunker chunker.Options

	Logger *slog.Logger
}

// Memory is the façade over the memory tiers.
type Memory struct {
	deps   Deps
	logger *slog.Logger

	// mu guards the store handle and everything built on it. Restore takes
	// it exclusively while the file is swapped.
	mu        sync.RWMutex
	store     *store.SQLiteStore
	facts     *corecontext.Builder
	retriever *retrieval.Retriever
	reflector *reflection.Reflector
	episodes  *episodes.Index
	closed    bool

	backups   *backup.Manager
	scheduler *backup.Scheduler
}

// New assembles a Memory from its dependencies. With AutoBackup set, a
// backup freshness check runs in the background right away and after
// every write.
func New(d Deps) (*Memory, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("memory: store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.TokenCounter == nil {
		d.TokenCounter = corecontext.ApproxCounter{}
	}
	if d.Embedder != nil && d.StoreOptions.EmbeddingDims == 0 {
		d.StoreOptions.EmbeddingDims = d.Embedder.Dims()
	}

	m := &Memory{deps: d, logger: d.Logger, store: d.Store}
	m.wire()

	bc := d.Backup
	bc.StorePath = d.Store.Path()
	bc.Checkpoint = m.checkpoint
	if bc.Logger == nil {
		bc.Logger = d.Logger
	}
	m.backups = backup.NewManager(bc)

	if d.AutoBackup {
		m.scheduler = backup.NewScheduler(m.backups, d.Logger)
		m.scheduler.Notify()
	}
	return m, nil
}

// wire builds the store-dependent components. Callers hold mu exclusively
// or own m outright.
func (m *Memory) wire() {
	d := m.deps
	m.facts = corecontext.NewBuilder(m.store, d.TokenCounter, d.Logger)

	ro := d.Retrieval
	if ro.Logger == nil {
		ro.Logger = d.Logger
	}
	m.retriever = retrieval.New(m.store, d.Embedder, ro)

	rfo := d.Reflection
	if rfo.Logger == nil {
		rfo.Logger = d.Logger
	}
	if rfo.Embed == nil {
		rfo.Embed = m.embed
	}
	m.reflector = reflection.New(m.store, d.Generator, rfo)

	m.episodes = episodes.NewIndex(m.store, d.Embedder, d.Logger)
}

// Close stops background backups and closes the store.
func (m *Memory) Close() error {
	if m.scheduler != nil {
		m.scheduler.Close()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if c, ok := m.deps.Embedder.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("close embedder", "error", err)
		}
	}
	return m.store.Close()
}

// Backups returns the backup manager.
func (m *Memory) Backups() *backup.Manager { return m.backups }

// StorePath returns the path of the store file.
func (m *Memory) StorePath() string { return m.deps.Store.Path() }

func (m *Memory) rlock() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (m *Memory) checkpoint(ctx context.Context) error {
	if err := m.rlock(); err != nil {
		return err
	}
	defer m.mu.RUnlock()
	return m.store.Checkpoint(ctx)
}

// notify schedules a backup freshness check after a committed write.
func (m *Memory) notify() {
	if m.scheduler != nil {
		m.scheduler.Notify()
	}
}

// embed returns the vector for text, or nil when embeddings are disabled
// or fail. Failures are logged and never block a write.
func (m *Memory) embed(ctx context.Context, text string) []float32 {
	if m.deps.Embedder == nil {
		return nil
	}
	v, err := m.deps.Embedder.Embed(ctx, text)
	if err != nil {
		m.logger.Warn("embedding failed, storing without vector", "error", err)
		return nil
	}
	return v
}

// StoreRequest is a piece of information to remember.
type StoreRequest struct {
	Content    string         `json:"content"`
	Category   model.Category `json:"category"`
	Importance *float64       `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Source     model.Source   `json:"source,omitempty"`
	IsCoreFact bool           `json:"is_core_fact,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
}

// Stored identifies what StoreKnowledge wrote.
type Stored struct {
	ID       int64 `json:"id"`
	CoreFact bool  `json:"core_fact"`
	Embedded bool  `json:"embedded"`
}

// StoreKnowledge stores a snippet in the knowledge tier, or a core fact
// when IsCoreFact is set. Importance defaults to 0.5, source to explicit
// and category to fact.
func (m *Memory) StoreKnowledge(ctx context.Context, req StoreRequest) (*Stored, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	category := req.Category
	if category == "" {
		category = model.CategoryFact
	}
	importance := DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}

	if req.IsCoreFact {
		f, err := m.facts.AddFact(ctx, req.Content, category, importance)
		if err != nil {
			return nil, err
		}
		m.notify()
		return &Stored{ID: f.ID, CoreFact: true}, nil
	}

	source := req.Source
	if source == "" {
		source = model.SourceExplicit
	}
	content := strings.TrimSpace(req.Content)
	k, err := m.store.AddKnowledge(ctx, store.KnowledgeParams{
		Content:    content,
		Category:   category,
		Importance: importance,
		Source:     source,
		Tags:       req.Tags,
		SessionID:  req.SessionID,
		Embedding:  m.embedIfContent(ctx, content),
	})
	if err != nil {
		return nil, err
	}
	m.notify()
	return &Stored{ID: k.ID, Embedded: k.HasEmbedding()}, nil
}

func (m *Memory) embedIfContent(ctx context.Context, content string) []float32 {
	if content == "" {
		return nil
	}
	return m.embed(ctx, content)
}

// QueryKnowledge returns the snippets most relevant to query, at most
// limit of them (10 when limit is 0).
func (m *Memory) QueryKnowledge(ctx context.Context, query string, category model.Category, limit int) ([]retrieval.Result, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = m.deps.DefaultLimit
	}
	results, err := m.retriever.Query(ctx, retrieval.Request{Text: query, Category: category, Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		m.notify()
	}
	return results, nil
}

// ListKnowledge returns snippets newest first, optionally filtered by
// category. Access counts are left alone.
func (m *Memory) ListKnowledge(ctx context.Context, category model.Category, limit int) ([]model.Knowledge, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.store.ListKnowledge(ctx, store.ListParams{Category: category, Limit: limit})
}

// DeleteKnowledgeByID removes one snippet. It reports false when no such
// snippet exists.
func (m *Memory) DeleteKnowledgeByID(ctx context.Context, id int64) (bool, error) {
	if err := m.rlock(); err != nil {
		return false, err
	}
	defer m.mu.RUnlock()
	ok, err := m.store.DeleteKnowledge(ctx, id)
	if ok {
		m.notify()
	}
	return ok, err
}

// DeleteKnowledgeMatching removes every snippet matching all words of
// query and returns how many were removed.
func (m *Memory) DeleteKnowledgeMatching(ctx context.Context, query string) (int, error) {
	if err := m.rlock(); err != nil {
		return 0, err
	}
	defer m.mu.RUnlock()
	n, err := m.store.DeleteKnowledgeMatching(ctx, query)
	if n > 0 {
		m.notify()
	}
	return n, err
}

// AddCoreFact stores an always-loaded fact.
func (m *Memory) AddCoreFact(ctx context.Context, content string, category model.Category, importance *float64) (*model.CoreFact, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	imp := DefaultImportance
	if importance != nil {
		imp = *importance
	}
	f, err := m.facts.AddFact(ctx, content, category, imp)
	if err != nil {
		return nil, err
	}
	m.notify()
	return f, nil
}

// UpdateCoreFact changes the given fields of a core fact. It reports false
// when the fact does not exist or no field was given.
func (m *Memory) UpdateCoreFact(ctx context.Context, id int64, u store.CoreFactUpdate) (bool, error) {
	return m.factWrite(func() (bool, error) { return m.facts.UpdateFact(ctx, id, u) })
}

// DeactivateCoreFact hides a core fact from the prompt without deleting it.
func (m *Memory) DeactivateCoreFact(ctx context.Context, id int64) (bool, error) {
	return m.factWrite(func() (bool, error) { return m.facts.DeactivateFact(ctx, id) })
}

// ReactivateCoreFact returns a deactivated fact to the prompt.
func (m *Memory) ReactivateCoreFact(ctx context.Context, id int64) (bool, error) {
	return m.factWrite(func() (bool, error) { return m.facts.ReactivateFact(ctx, id) })
}

// DeleteCoreFact permanently removes a core fact.
func (m *Memory) DeleteCoreFact(ctx context.Context, id int64) (bool, error) {
	return m.factWrite(func() (bool, error) { return m.facts.DeleteFact(ctx, id) })
}

func (m *Memory) factWrite(fn func() (bool, error)) (bool, error) {
	if err := m.rlock(); err != nil {
		return false, err
	}
	defer m.mu.RUnlock()
	ok, err := fn()
	if ok {
		m.notify()
	}
	return ok, err
}

// ListCoreFacts returns the active core facts in prompt order, or every
// fact when all is set.
func (m *Memory) ListCoreFacts(ctx context.Context, all bool) ([]model.CoreFact, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	if all {
		return m.store.ListCoreFacts(ctx)
	}
	return m.facts.GetActiveFacts(ctx)
}

// BuildAugmentedPrompt prepends the core memory section to base. Without
// active core facts base is returned unchanged.
func (m *Memory) BuildAugmentedPrompt(ctx context.Context, base string) (string, error) {
	if err := m.rlock(); err != nil {
		return "", err
	}
	defer m.mu.RUnlock()
	section, err := m.facts.BuildPromptSection(ctx)
	if err != nil {
		return "", err
	}
	if section == "" {
		return base, nil
	}
	if strings.TrimSpace(base) == "" {
		return section, nil
	}
	return section + "\n" + base, nil
}

// ReflectAndSummarize turns a finished conversation into an episode and
// new memories. It returns nil when there is nothing to reflect on or the
// generator output was unusable. An empty sessionID gets a fresh one.
func (m *Memory) ReflectAndSummarize(ctx context.Context, sessionID string, turns []model.Turn) (*reflection.Summary, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	if len(turns) < 2 {
		return nil, nil
	}
	if m.deps.Generator == nil {
		return nil, ErrReflectionDisabled
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = m.store.NewID()
	}

	sum, err := m.reflector.Reflect(ctx, sessionID, turns)
	if err != nil || sum == nil {
		return sum, err
	}
	m.notify()

	if ep, err := m.store.GetEpisodeBySession(ctx, sessionID); err != nil {
		m.logger.Warn("load reflected episode", "session", sessionID, "error", err)
	} else if err := m.episodes.Add(ctx, *ep); err != nil {
		m.logger.Warn("index reflected episode", "session", sessionID, "error", err)
	}
	return sum, nil
}

// RecallEpisodes returns past conversations similar to query.
func (m *Memory) RecallEpisodes(ctx context.Context, query string, limit int) ([]episodes.Hit, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.episodes.Recall(ctx, query, limit)
}

// ListEpisodes returns episodes newest first.
func (m *Memory) ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.store.ListEpisodes(ctx, limit)
}

// IngestRequest is a markdown document to split into knowledge snippets.
type IngestRequest struct {
	Text       string
	Category   model.Category
	Importance *float64
	Tags       []string
	SessionID  string
}

// IngestDocument splits a document into sections and stores each as an
// extracted knowledge snippet. A section's heading is added to its tags.
func (m *Memory) IngestDocument(ctx context.Context, req IngestRequest) ([]int64, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	category := req.Category
	if category == "" {
		category = model.CategoryFact
	}
	importance := DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}

	var ids []int64
	for _, sec := range chunker.Split(req.Text, m.deps.Chunker) {
		tags := append([]string(nil), req.Tags...)
		if sec.Heading != "" {
			tags = append(tags, sec.Heading)
		}
		k, err := m.store.AddKnowledge(ctx, store.KnowledgeParams{
			Content:    sec.Text,
			Category:   category,
			Importance: importance,
			Source:     model.SourceExtracted,
			Tags:       tags,
			SessionID:  req.SessionID,
			Embedding:  m.embed(ctx, sec.Text),
		})
		if err != nil {
			return ids, fmt.Errorf("ingest section at line %d: %w", sec.StartLine, err)
		}
		ids = append(ids, k.ID)
	}
	if len(ids) > 0 {
		m.notify()
		m.logger.Info("document ingested", "sections", len(ids))
	}
	return ids, nil
}

// CreateBackup snapshots the store now. It returns nil when the store has
// no file yet.
func (m *Memory) CreateBackup(ctx context.Context) (*model.BackupRecord, error) {
	return m.backups.CreateBackup(ctx)
}

// ListBackups returns the snapshots on disk, newest first.
func (m *Memory) ListBackups() ([]model.BackupRecord, error) {
	return m.backups.ListBackups()
}

// RestoreFromBackup replaces the store with a snapshot. The store is
// closed for the swap and reopened afterwards, even when the restore
// fails. When the restored file cannot be opened the pre-restore snapshot
// is put back. It reports false when filename is not a listed backup.
func (m *Memory) RestoreFromBackup(ctx context.Context, filename string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	if err := m.store.Close(); err != nil {
		return false, fmt.Errorf("close store for restore: %w", err)
	}
	ok, restoreErr := m.backups.RestoreFromBackup(ctx, filename)

	s, err := store.Open(m.deps.Store.Path(), m.deps.StoreOptions)
	if err != nil && ok {
		openErr := fmt.Errorf("open restored store: %w", err)
		undone, undoErr := m.backups.UndoRestore(ctx)
		if undoErr != nil || !undone {
			m.closed = true
			return false, errors.Join(openErr, undoErr, ErrClosed)
		}
		m.logger.Warn("restored store unusable, rolled back", "file", filename, "error", err)
		ok, restoreErr = false, openErr
		s, err = store.Open(m.deps.Store.Path(), m.deps.StoreOptions)
	}
	if err != nil {
		m.closed = true
		return false, errors.Join(restoreErr, fmt.Errorf("reopen store: %w", err))
	}
	m.store = s
	m.wire()

	if restoreErr != nil {
		return false, restoreErr
	}
	return ok, nil
}

// Stats extends the store statistics with engine-level figures.
type Stats struct {
	*store.Stats
	Backups           int  `json:"backups"`
	CoreSectionTokens int  `json:"core_section_tokens"`
	EmbeddingsEnabled bool `json:"embeddings_enabled"`
	EmbeddingDims     int  `json:"embedding_dims,omitempty"`
	ReflectionEnabled bool `json:"reflection_enabled"`
}

// GetStats reports counts for every tier and the backup directory.
func (m *Memory) GetStats(ctx context.Context) (*Stats, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	st, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Stats: st, ReflectionEnabled: m.deps.Generator != nil}
	if m.deps.Embedder != nil {
		out.EmbeddingsEnabled = true
		out.EmbeddingDims = m.deps.Embedder.Dims()
	}
	if out.CoreSectionTokens, err = m.facts.SectionTokens(ctx); err != nil {
		return nil, err
	}
	backups, err := m.backups.ListBackups()
	if err != nil {
		m.logger.Warn("list backups for stats", "error", err)
	}
	out.Backups = len(backups)
	return out, nil
}

// Export dumps every tier.
func (m *Memory) Export(ctx context.Context) (*store.Export, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.store.ExportAll(ctx)
}

// Import stores the records of an export, embedding knowledge snippets
// with the current embedder.
func (m *Memory) Import(ctx context.Context, ex *store.Export) (store.ImportCounts, error) {
	if err := m.rlock(); err != nil {
		return store.ImportCounts{}, err
	}
	defer m.mu.RUnlock()
	c, err := m.store.Import(ctx, ex, m.embed)
	if c.CoreFacts+c.Knowledge+c.Episodes > 0 {
		m.episodes.Reset()
		m.notify()
	}
	return c, err
}
