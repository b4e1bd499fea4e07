// Package handlers implements Cairn's five typed search handlers (spec
// §4.8), dispatched by internal/cairn/searchv2 once the QueryRouter has
// classified a query with sufficient confidence.
//
// Grounded nearly line-for-line on original_source/cairn/core/handlers.py —
// this is the most load-bearing original-source file for this component,
// since spec.md §4.8 is itself a faithful paraphrase of it. All handlers
// soft-fail to vector-only or empty results rather than propagating an
// error, matching the Python file's blanket except-and-fall-back pattern.
package handlers

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/router"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
)

// defaultHopDecay is the per-hop score multiplier for [EntityLookup]'s BFS
// (spec §4.8: hop 1 = 2.0x, hop 2 = 1.3x). Parameterized rather than
// hardcoded so a future hop-3 or a different decay curve is a config
// change, not a rewrite (SPEC_FULL.md design decision 3).
var defaultHopDecay = []float64{2.0, 1.3}

// defaultTemporalWindow is applied when a temporal query extracts no
// after/before bound (spec §4.8).
const defaultTemporalWindow = 7 * 24 * time.Hour

// defaultEntityLookupBFSDepth and defaultRelationshipBFSDepth are applied
// when Context's corresponding field is zero (spec §6's BFS traversal
// depth tunables).
const (
	defaultEntityLookupBFSDepth = 2
	defaultRelationshipBFSDepth = 3
)

// Context carries everything a handler needs. Graph may be nil — handlers
// that depend on it fall back to vector search, matching
// `if not ctx.graph: return _vector_search(ctx)`.
type Context struct {
	Query            string
	Route            router.Route
	Project          string
	Store            memory.MemoryStore
	Embedder         embeddings.Provider
	Graph            memory.GraphProvider
	Limit            int
	ResolvedEntities []memory.Entity
	HopDecay         []float64
	Logger           *slog.Logger

	// EntityLookupBFSDepth and RelationshipBFSDepth bound the graph
	// traversal depth for [EntityLookup]'s hop-2 BFS and [Relationship]'s
	// connecting-statement search, respectively (spec §6). Zero means use
	// the package defaults.
	EntityLookupBFSDepth int
	RelationshipBFSDepth int
}

func (c *Context) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Context) hopDecay() []float64 {
	if len(c.HopDecay) > 0 {
		return c.HopDecay
	}
	return defaultHopDecay
}

func (c *Context) entityLookupBFSDepth() int {
	if c.EntityLookupBFSDepth > 0 {
		return c.EntityLookupBFSDepth
	}
	return defaultEntityLookupBFSDepth
}

func (c *Context) relationshipBFSDepth() int {
	if c.RelationshipBFSDepth > 0 {
		return c.RelationshipBFSDepth
	}
	return defaultRelationshipBFSDepth
}

// Candidate is one handler result: a memory plus its handler-assigned score.
type Candidate struct {
	ID     int64
	Memory memory.Memory
	Score  float64
}

// Handler is the common signature every typed handler satisfies.
type Handler func(ctx context.Context, hctx *Context) []Candidate

// Handlers is the static dispatch table (spec §4.8's HANDLERS), keyed by
// [router.QueryType].
var Handlers = map[router.QueryType]Handler{
	router.QueryAspectQuery:  AspectQuery,
	router.QueryEntityLookup: EntityLookup,
	router.QueryTemporal:     Temporal,
	router.QueryExploratory:  Exploratory,
	router.QueryRelationship: Relationship,
}

// vectorSearch is the shared pgvector cosine-similarity primitive every
// handler falls back to (handlers.py's _vector_search).
func vectorSearch(ctx context.Context, hctx *Context, limit int) []Candidate {
	if limit <= 0 {
		limit = hctx.Limit * 3
	}
	embedding, err := hctx.Embedder.Embed(ctx, hctx.Query)
	if err != nil {
		hctx.logger().Warn("handler vector search: embed failed", "error", err)
		return nil
	}
	var project []string
	if hctx.Project != "" {
		project = []string{hctx.Project}
	}
	scored, err := hctx.Store.VectorSearch(ctx, embedding, project, nil, limit)
	if err != nil {
		hctx.logger().Warn("handler vector search failed", "error", err)
		return nil
	}
	out := make([]Candidate, len(scored))
	for i, sm := range scored {
		out[i] = Candidate{ID: sm.Memory.ID, Memory: sm.Memory, Score: sm.Memory.Importance}
		if sm.Rank > 0 {
			out[i].Score = 1.0 / float64(sm.Rank)
		}
	}
	return out
}

// blendResults merges primary and supplement, deduplicating by ID with
// primary order preserved, capped at limit (handlers.py's _blend_results).
func blendResults(primary, supplement []Candidate, limit int) []Candidate {
	seen := make(map[int64]struct{}, len(primary)+len(supplement))
	blended := make([]Candidate, 0, len(primary)+len(supplement))

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

// fetchMemoriesByIDs recalls ids (deduplicated, order preserved, capped at
// limit) and assigns a 1/(i+1) recency/order score — handlers.py's
// _fetch_memories_by_ids.
func fetchMemoriesByIDs(ctx context.Context, hctx *Context, ids []int64, limit int) []Candidate {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
		if limit > 0 && len(unique) == limit {
			break
		}
	}

	rows, err := hctx.Store.Recall(ctx, unique)
	if err != nil {
		hctx.logger().Warn("handler fetch-by-ids failed", "error", err)
		return nil
	}
	rowByID := make(map[int64]memory.Memory, len(rows))
	for _, r := range rows {
		rowByID[r.ID] = r
	}

	out := make([]Candidate, 0, len(unique))
	for i, id := range unique {
		row, ok := rowByID[id]
		if !ok {
			continue
		}
		out = append(out, Candidate{ID: id, Memory: row, Score: 1.0 / float64(i+1)})
	}
	return out
}

// resolveHints resolves each of hints to up to limitPerHint entities via
// embedding + [memory.GraphProvider.SearchEntitiesByEmbedding], deduplicated
// by UUID across all hints.
func resolveHints(ctx context.Context, hctx *Context, hints []string, limitPerHint int) []memory.Entity {
	seen := make(map[string]struct{})
	var out []memory.Entity
	for _, hint := range hints {
		embedding, err := hctx.Embedder.Embed(ctx, hint)
		if err != nil {
			continue
		}
		entities, err := hctx.Graph.SearchEntitiesByEmbedding(ctx, embedding, hctx.Project, limitPerHint)
		if err != nil {
			continue
		}
		for _, e := range entities {
			if _, ok := seen[e.UUID]; ok {
				continue
			}
			seen[e.UUID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// EntityLookup implements handle_entity_lookup: graph-primary, multi-hop BFS
// scoring over pre-resolved or hint-resolved entities.
func EntityLookup(ctx context.Context, hctx *Context) []Candidate {
	if hctx.Graph == nil {
		return vectorSearch(ctx, hctx, 0)
	}

	entities := hctx.ResolvedEntities
	if len(entities) == 0 && len(hctx.Route.EntityHints) > 0 {
		entities = resolveHints(ctx, hctx, hctx.Route.EntityHints, 5)
	}
	if len(entities) == 0 {
		return vectorSearch(ctx, hctx, 0)
	}

	decay := hctx.hopDecay()
	hop1Score := decay[0]
	hop2Score := 1.0
	if len(decay) > 1 {
		hop2Score = decay[1]
	}

	hop1 := make(map[int64]float64)
	for _, entity := range entities {
		episodeIDs, err := hctx.Graph.FindEntityEpisodes(ctx, entity.UUID)
		if err != nil {
			continue
		}
		for _, eid := range episodeIDs {
			if cur, ok := hop1[eid]; !ok || hop1Score > cur {
				hop1[eid] = hop1Score
			}
		}
	}

	hop2 := make(map[int64]float64)
	for _, entity := range entities {
		stmts, err := hctx.Graph.BFSTraverse(ctx, entity.UUID, hctx.entityLookupBFSDepth())
		if err != nil {
			hctx.logger().Debug("BFS hop-2 failed", "entity", entity.UUID, "error", err)
			continue
		}
		for _, stmt := range stmts {
			if _, inHop1 := hop1[stmt.EpisodeID]; stmt.EpisodeID != 0 && !inHop1 {
				if cur, ok := hop2[stmt.EpisodeID]; !ok || hop2Score > cur {
					hop2[stmt.EpisodeID] = hop2Score
				}
			}
		}
	}

	scoredEpisodes := make(map[int64]float64, len(hop1)+len(hop2))
	for eid, s := range hop2 {
		scoredEpisodes[eid] = s
	}
	for eid, s := range hop1 {
		scoredEpisodes[eid] = s // hop1 overwrites hop2
	}
	if len(scoredEpisodes) == 0 {
		return nil
	}

	allIDs := make([]int64, 0, len(scoredEpisodes))
	for eid := range scoredEpisodes {
		allIDs = append(allIDs, eid)
	}

	results := fetchMemoriesByIDs(ctx, hctx, allIDs, hctx.Limit*3)
	for i := range results {
		results[i].Score = scoredEpisodes[results[i].ID] * results[i].Score
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	hctx.logger().Debug("entity lookup",
		"entities", len(entities), "hop1", len(hop1), "hop2", len(hop2), "results", len(results))
	return results
}

// AspectQuery implements handle_aspect_query: vector-first with a graph
// supplement scoped to ctx.Route.Aspects.
func AspectQuery(ctx context.Context, hctx *Context) []Candidate {
	if hctx.Graph == nil || len(hctx.Route.Aspects) == 0 {
		return vectorSearch(ctx, hctx, 0)
	}

	var graphEpisodeIDs []int64
	if len(hctx.Route.EntityHints) > 0 {
		for _, entity := range resolveHints(ctx, hctx, hctx.Route.EntityHints, 5) {
			stmts, err := hctx.Graph.FindEntityStatements(ctx, entity.UUID, hctx.Route.Aspects)
			if err != nil {
				continue
			}
			for _, s := range stmts {
				if s.EpisodeID != 0 {
					graphEpisodeIDs = append(graphEpisodeIDs, s.EpisodeID)
				}
			}
		}
	}

	aspectEpisodeIDs, err := hctx.Graph.SearchStatementsByAspect(ctx, hctx.Route.Aspects, hctx.Project)
	if err == nil {
		n := hctx.Limit
		if n > len(aspectEpisodeIDs) {
			n = len(aspectEpisodeIDs)
		}
		graphEpisodeIDs = append(graphEpisodeIDs, aspectEpisodeIDs[:n]...)
	}

	vectorResults := vectorSearch(ctx, hctx, hctx.Limit*3)
	graphResults := fetchMemoriesByIDs(ctx, hctx, graphEpisodeIDs, hctx.Limit)
	return blendResults(vectorResults, graphResults, hctx.Limit*3)
}

// Temporal implements handle_temporal: a pure relational time-range filter,
// defaulting to the last 7 days when the router extracted no bound.
func Temporal(ctx context.Context, hctx *Context) []Candidate {
	after, before := parseTemporalBounds(hctx.Route.Temporal)
	if after.IsZero() && before.IsZero() {
		after = time.Now().Add(-defaultTemporalWindow)
	}

	var project []string
	if hctx.Project != "" {
		project = []string{hctx.Project}
	}

	rows, err := hctx.Store.TemporalSearch(ctx, project, after, before, hctx.Limit*2)
	if err != nil {
		hctx.logger().Warn("temporal handler failed, falling back to vector search", "error", err)
		return vectorSearch(ctx, hctx, 0)
	}

	out := make([]Candidate, len(rows))
	for i, row := range rows {
		out[i] = Candidate{ID: row.ID, Memory: row, Score: 1.0 / float64(i+1)}
	}
	return out
}

// parseTemporalBounds parses the router's natural-language-or-ISO after/
// before strings into time.Time, treating unparseable values as absent
// (router output is advisory, spec §4.6).
func parseTemporalBounds(t router.TemporalFilter) (after, before time.Time) {
	if t.After != "" {
		if parsed, err := time.Parse(time.RFC3339, t.After); err == nil {
			after = parsed
		} else if parsed, err := time.Parse("2006-01-02", t.After); err == nil {
			after = parsed
		}
	}
	if t.Before != "" {
		if parsed, err := time.Parse(time.RFC3339, t.Before); err == nil {
			before = parsed
		} else if parsed, err := time.Parse("2006-01-02", t.Before); err == nil {
			before = parsed
		}
	}
	return after, before
}

// Exploratory implements handle_exploratory: vector search, optionally
// blended with graph entity episodes from resolved hints.
func Exploratory(ctx context.Context, hctx *Context) []Candidate {
	vectorResults := vectorSearch(ctx, hctx, hctx.Limit*3)

	if hctx.Graph != nil && len(hctx.Route.EntityHints) > 0 && hctx.Project != "" {
		seen := make(map[int64]struct{})
		var episodeIDs []int64
		for _, entity := range resolveHints(ctx, hctx, hctx.Route.EntityHints, 5) {
			eps, err := hctx.Graph.FindEntityEpisodes(ctx, entity.UUID)
			if err != nil {
				continue
			}
			for _, eid := range eps {
				if _, ok := seen[eid]; !ok {
					seen[eid] = struct{}{}
					episodeIDs = append(episodeIDs, eid)
				}
			}
		}
		if len(episodeIDs) > 0 {
			graphResults := fetchMemoriesByIDs(ctx, hctx, episodeIDs, hctx.Limit)
			return blendResults(vectorResults, graphResults, hctx.Limit*3)
		}
	}

	return vectorResults
}

// Relationship implements handle_relationship: BFS connecting-statements
// between the first two resolved entity hints.
func Relationship(ctx context.Context, hctx *Context) []Candidate {
	if hctx.Graph == nil || len(hctx.Route.EntityHints) < 2 {
		return nil
	}

	var entityUUIDs []string
	for _, hint := range hctx.Route.EntityHints[:2] {
		embedding, err := hctx.Embedder.Embed(ctx, hint)
		if err != nil {
			continue
		}
		entities, err := hctx.Graph.SearchEntitiesByEmbedding(ctx, embedding, hctx.Project, 1)
		if err != nil || len(entities) == 0 {
			continue
		}
		entityUUIDs = append(entityUUIDs, entities[0].UUID)
	}
	if len(entityUUIDs) < 2 {
		return nil
	}

	statements, err := hctx.Graph.FindConnectingStatements(ctx, entityUUIDs[0], entityUUIDs[1], hctx.relationshipBFSDepth())
	if err != nil || len(statements) == 0 {
		return nil
	}

	seen := make(map[int64]struct{})
	var episodeIDs []int64
	for _, s := range statements {
		if s.EpisodeID == 0 {
			continue
		}
		if _, ok := seen[s.EpisodeID]; !ok {
			seen[s.EpisodeID] = struct{}{}
			episodeIDs = append(episodeIDs, s.EpisodeID)
		}
	}
	if len(episodeIDs) == 0 {
		return nil
	}

	return fetchMemoriesByIDs(ctx, hctx, episodeIDs, hctx.Limit*2)
}
