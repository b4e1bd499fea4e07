// Package api is Cairn's external interface (spec §6): a single Core type
// exposing the language-agnostic search/store/modify/recall operations
// every embedding caller (CLI, future REST layer, test harness) uses. There
// is no HTTP handler here — per SPEC_FULL.md's scope, transport binding is
// left to the caller; this package is the stable Go surface that binding
// would wrap.
package api

import (
	"context"
	"fmt"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/search"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/searchv2"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
)

// DefaultLimit and limit bounds mirror spec §6's search signature
// (`limit: integer ∈ [1, 100] = 10`).
const (
	DefaultLimit = 10
	MinLimit     = 1
	MaxLimit     = 100
)

// SearchRequest mirrors spec §6's search(...) parameters.
type SearchRequest struct {
	Query       string
	Project     []string
	MemType     []string
	Mode        string // "semantic" | "keyword" | "tag", default "semantic"
	Limit       int
	IncludeFull bool
}

// SearchResult mirrors spec §6's search(...) return shape.
type SearchResult = searchv2.Result

// StoreRequest mirrors spec §4.3's StoreParams, minus the embedding (Core
// computes it via the configured Embedder so callers never handle vectors
// directly).
type StoreRequest struct {
	Content      string
	Project      string
	Type         memory.MemoryType
	Importance   float64
	Tags         []string
	SessionID    string
	Author       memory.Author
	RelatedFiles []string
}

// Core wires the retrieval and persistence layers behind the operations
// spec §6 names.
type Core struct {
	search   *searchv2.Engine
	store    memory.MemoryStore
	embedder embeddings.Provider
}

// New constructs a Core.
func New(searchEngine *searchv2.Engine, store memory.MemoryStore, embedder embeddings.Provider) *Core {
	return &Core{search: searchEngine, store: store, embedder: embedder}
}

// Search implements spec §6's search operation, applying the documented
// defaults and clamping limit to [1, 100].
func (c *Core) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	mode := search.Mode(req.Mode)
	if mode == "" {
		mode = search.ModeSemantic
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit < MinLimit {
		limit = MinLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return c.search.Search(ctx, searchv2.Query{
		Text:        req.Query,
		Project:     req.Project,
		MemType:     req.MemType,
		Mode:        mode,
		Limit:       limit,
		IncludeFull: req.IncludeFull,
	})
}

// Store implements spec §4.3's store operation: embeds Content via the
// configured Embedder, then persists through MemoryStore. Unlike Search,
// Store surfaces errors directly (spec §7: "store raises only on database
// failure or permanent embedder failure after retries" — the retry/backoff
// and circuit-breaking happen beneath this call, inside the
// resilience.ResilientEmbedder app.New wraps c.embedder with; by the time
// Embed returns an error here, retries are already exhausted).
func (c *Core) Store(ctx context.Context, req StoreRequest) (memory.StoreResult, error) {
	embedding, err := c.embedder.Embed(ctx, req.Content)
	if err != nil {
		return memory.StoreResult{}, fmt.Errorf("api: store: embed content: %w", err)
	}

	return c.store.Store(ctx, memory.StoreParams{
		Content:      req.Content,
		Project:      req.Project,
		Type:         req.Type,
		Importance:   req.Importance,
		Tags:         req.Tags,
		SessionID:    req.SessionID,
		Author:       req.Author,
		RelatedFiles: req.RelatedFiles,
		Embedding:    embedding,
	})
}

// Modify implements spec §4.3's modify operation.
func (c *Core) Modify(ctx context.Context, id int64, params memory.ModifyParams) error {
	return c.store.Modify(ctx, id, params)
}

// Recall implements spec §4.3's recall operation.
func (c *Core) Recall(ctx context.Context, ids []int64) ([]memory.Memory, error) {
	return c.store.Recall(ctx, ids)
}
