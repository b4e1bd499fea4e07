// Package searchv2 implements Cairn's unified search entry point (spec
// §4.9): the single function every caller of Search hits, wrapping
// [search.Engine] and optionally layering intent routing, typed-handler
// blending, reranking, and token-budget trimming on top.
//
// Grounded on original_source/cairn/core/search_v2.py's SearchV2 class.
// Two modes mirror the Python class exactly:
//
//   - Passthrough (Enhanced=false, or search mode isn't "semantic"):
//     delegates straight to [search.Engine].
//   - Enhanced: RRF base pool → QueryRouter → handler dispatch/blend →
//     rerank → token-budget trim → memory-type filter → projection.
//
// On any failure in the enhanced path, Search falls back to the RRF
// passthrough transparently — the caller never sees which path executed
// (search_v2.py's "the caller never needs to know which path executed").
package searchv2

import (
	"context"
	"log/slog"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/handlers"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/rerank"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/router"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/search"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
)

// DefaultTokenBudget is the enhanced pipeline's final-result token budget
// (search_v2.py's DEFAULT_TOKEN_BUDGET).
const DefaultTokenBudget = 10_000

// DefaultRerankCandidates is the RRF pool size fed into the handler-blend
// and rerank stages when the enhanced pipeline is active (search_v2.py's
// rerank_candidates constructor default).
const DefaultRerankCandidates = 50

// DefaultHandlerConfidence is the minimum router confidence required before
// a typed handler's results are blended into the RRF pool (spec §4.9).
const DefaultHandlerConfidence = 0.6

// Query carries one Search call's parameters.
type Query struct {
	Text        string
	Project     []string
	MemType     []string
	Mode        search.Mode
	Limit       int
	IncludeFull bool
}

// Result is one projected search hit (search_v2.py's _format_results shape).
type Result struct {
	ID          int64
	Content     string // empty when not IncludeFull and content exceeds 500 chars
	Summary     string
	MemoryType  memory.MemoryType
	Importance  float64
	Project     string
	Tags        []string
	AutoTags    []string
	CreatedAt   string
	Score       float64
	RerankScore *float64
}

// Engine is the unified search entry point.
type Engine struct {
	base     *search.Engine
	router   *router.Router
	graph    memory.GraphProvider
	store    memory.MemoryStore
	embedder embeddings.Provider
	reranker rerank.Reranker
	tokens   *tokenCounter
	logger   *slog.Logger

	enhanced          bool
	rerankCandidates  int
	tokenBudget       int
	handlerConfidence float64

	entityLookupBFSDepth int
	relationshipBFSDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnhanced toggles the enhanced pipeline. Passthrough (the default) is
// the zero value's behavior.
func WithEnhanced(enabled bool) Option { return func(e *Engine) { e.enhanced = enabled } }

// WithReranker attaches a reranker to the enhanced pipeline. Without one,
// the enhanced pipeline skips reranking and keeps RRF/handler-blend order.
func WithReranker(r rerank.Reranker) Option { return func(e *Engine) { e.reranker = r } }

// WithRouter attaches a QueryRouter. Without one, the enhanced pipeline
// classifies every query as the default exploratory route and never
// dispatches a typed handler.
func WithRouter(r *router.Router) Option { return func(e *Engine) { e.router = r } }

// WithRerankCandidates overrides DefaultRerankCandidates.
func WithRerankCandidates(n int) Option { return func(e *Engine) { e.rerankCandidates = n } }

// WithTokenBudget overrides DefaultTokenBudget.
func WithTokenBudget(n int) Option { return func(e *Engine) { e.tokenBudget = n } }

// WithHandlerConfidence overrides DefaultHandlerConfidence.
func WithHandlerConfidence(c float64) Option { return func(e *Engine) { e.handlerConfidence = c } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithBFSDepths overrides the entity_lookup and relationship handlers' graph
// traversal depths (spec §6). Zero means use the handlers package defaults.
func WithBFSDepths(entityLookup, relationship int) Option {
	return func(e *Engine) {
		e.entityLookupBFSDepth = entityLookup
		e.relationshipBFSDepth = relationship
	}
}

// New constructs an Engine. graph may be nil (handler dispatch and the
// graph-backed handlers degrade to vector search, per internal/cairn/handlers).
func New(base *search.Engine, store memory.MemoryStore, graph memory.GraphProvider, embedder embeddings.Provider, opts ...Option) *Engine {
	e := &Engine{
		base:              base,
		store:             store,
		graph:             graph,
		embedder:          embedder,
		tokens:            newTokenCounter(),
		logger:            slog.Default(),
		rerankCandidates:  DefaultRerankCandidates,
		tokenBudget:       DefaultTokenBudget,
		handlerConfidence: DefaultHandlerConfidence,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs passthrough or enhanced search depending on e.enhanced and
// params.Mode, and never returns an error to the caller that the
// passthrough path itself wouldn't: the enhanced path's own failures are
// absorbed and retried as passthrough internally.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if !e.enhanced || q.Mode != search.ModeSemantic {
		return e.fallbackSearch(ctx, q)
	}

	results, err := e.routedSearch(ctx, q)
	if err != nil {
		e.logger.Warn("enhanced search pipeline failed, falling back to RRF", "error", err)
		return e.fallbackSearch(ctx, q)
	}
	return results, nil
}

// fallbackSearch delegates directly to the RRF SearchEngine.
func (e *Engine) fallbackSearch(ctx context.Context, q Query) ([]Result, error) {
	candidates, err := e.base.Search(ctx, search.Params{
		Query:   q.Text,
		Project: q.Project,
		MemType: q.MemType,
		Mode:    q.Mode,
		TopK:    q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return formatResults(pooledFromSearch(candidates), q.IncludeFull), nil
}

// pooled is the unified candidate shape threading through the enhanced
// pipeline's stages (RRF base, handler blend, rerank), so each stage
// doesn't need to know the concrete type the previous stage produced.
type pooled struct {
	ID          int64
	Memory      memory.Memory
	Score       float64
	RerankScore *float64
}

func pooledFromSearch(candidates []search.Candidate) []pooled {
	out := make([]pooled, len(candidates))
	for i, c := range candidates {
		out[i] = pooled{ID: c.Memory.ID, Memory: c.Memory, Score: c.Score}
	}
	return out
}

func pooledFromHandlers(candidates []handlers.Candidate) []pooled {
	out := make([]pooled, len(candidates))
	for i, c := range candidates {
		out[i] = pooled{ID: c.ID, Memory: c.Memory, Score: c.Score}
	}
	return out
}

// blendPooled merges primary and supplement, deduplicating by ID with
// primary order (and score) preserved — search_v2.py has no direct
// equivalent since it never wires handler dispatch; this mirrors
// handlers.py's own _blend_results, which Cairn's handler-dispatch design
// decision (DESIGN.md §4) adopts as the blend semantics for this stage too.
func blendPooled(primary, supplement []pooled, limit int) []pooled {
	seen := make(map[int64]struct{}, len(primary)+len(supplement))
	blended := make([]pooled, 0, len(primary)+len(supplement))
	for _, c := range primary {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		blended = append(blended, c)
	}
	for _, c := range supplement {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		blended = append(blended, c)
	}
	if limit > 0 && len(blended) > limit {
		blended = blended[:limit]
	}
	return blended
}

// routedSearch implements search_v2.py's _routed_search.
func (e *Engine) routedSearch(ctx context.Context, q Query) ([]Result, error) {
	// Step 1: RRF base — a wide candidate pool for blending/reranking.
	rrfCandidates, err := e.base.Search(ctx, search.Params{
		Query:   q.Text,
		Project: q.Project,
		MemType: q.MemType,
		Mode:    search.ModeSemantic,
		TopK:    e.rerankCandidates,
	})
	if err != nil {
		return nil, err
	}
	candidates := pooledFromSearch(rrfCandidates)
	if len(candidates) == 0 {
		return nil, nil
	}

	// Step 2: route the query for handler dispatch.
	route := router.Route{QueryType: router.QueryExploratory, Confidence: 0.5}
	if e.router != nil {
		route = e.router.Route(ctx, q.Text)
	}

	// Step 3: dispatch the matching typed handler and blend its results in,
	// when the router is confident enough (spec §4.9).
	if route.Confidence >= e.handlerConfidence {
		if handler, ok := handlers.Handlers[route.QueryType]; ok {
			var project string
			if len(q.Project) > 0 {
				project = q.Project[0]
			}
			hctx := &handlers.Context{
				Query:                q.Text,
				Route:                route,
				Project:              project,
				Store:                e.store,
				Embedder:             e.embedder,
				Graph:                e.graph,
				Limit:                e.rerankCandidates,
				Logger:               e.logger,
				EntityLookupBFSDepth: e.entityLookupBFSDepth,
				RelationshipBFSDepth: e.relationshipBFSDepth,
			}
			handlerResults := handler(ctx, hctx)
			candidates = blendPooled(candidates, pooledFromHandlers(handlerResults), e.rerankCandidates)
		}
	}

	// Step 4: rerank, or keep RRF/handler-blend order.
	if e.reranker != nil {
		candidates = e.rerank(ctx, q.Text, candidates, q.Limit)
	} else {
		candidates = truncatePooled(candidates, q.Limit)
	}

	// Step 5: token budget — drop least relevant from the tail.
	candidates = e.applyTokenBudget(candidates)

	// Step 6: memory-type filter.
	if len(q.MemType) > 0 {
		allowed := make(map[memory.MemoryType]struct{}, len(q.MemType))
		for _, t := range q.MemType {
			allowed[memory.MemoryType(t)] = struct{}{}
		}
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if _, ok := allowed[c.Memory.Type]; ok {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	// Step 7: project to output format.
	return formatResults(candidates, q.IncludeFull), nil
}

func (e *Engine) rerank(ctx context.Context, query string, candidates []pooled, limit int) []pooled {
	rerankCandidates := make([]rerank.Candidate, len(candidates))
	for i, c := range candidates {
		rerankCandidates[i] = rerank.Candidate{ID: c.ID, Content: c.Memory.Content, Score: c.Score}
	}

	reranked := e.reranker.Rerank(ctx, query, rerankCandidates, limit)

	byID := make(map[int64]pooled, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	out := make([]pooled, 0, len(reranked))
	for _, r := range reranked {
		base, ok := byID[r.ID]
		if !ok {
			continue
		}
		score := r.RerankScore
		base.RerankScore = &score
		out = append(out, base)
	}
	return out
}

func truncatePooled(candidates []pooled, limit int) []pooled {
	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}

// applyTokenBudget drops least-relevant (tail) candidates until the
// cumulative token estimate of their content would exceed e.tokenBudget,
// always keeping at least one result (search_v2.py's _apply_token_budget).
func (e *Engine) applyTokenBudget(candidates []pooled) []pooled {
	budget := e.tokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	total := 0
	out := make([]pooled, 0, len(candidates))
	for _, c := range candidates {
		est := e.tokens.estimate(c.Memory.Content)
		if total+est > budget && len(out) > 0 {
			break
		}
		total += est
		out = append(out, c)
	}
	return out
}

// formatResults projects pooled candidates into the external Result shape
// (search_v2.py's _format_results).
func formatResults(candidates []pooled, includeFull bool) []Result {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		content := ""
		if includeFull || len(c.Memory.Content) <= 500 {
			content = c.Memory.Content
		}

		summary := c.Memory.Summary
		if summary == "" {
			summary = c.Memory.Content
			if len(summary) > 200 {
				summary = summary[:200] + "..."
			}
		}

		results[i] = Result{
			ID:         c.ID,
			Content:    content,
			Summary:    summary,
			MemoryType: c.Memory.Type,
			Importance: c.Memory.Importance,
			Project:    c.Memory.Project,
			Tags:       c.Memory.Tags,
			AutoTags:   c.Memory.AutoTags,
			CreatedAt:  c.Memory.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Score:      c.Score,
		}
		if c.RerankScore != nil {
			results[i].RerankScore = c.RerankScore
		}
	}
	return results
}
