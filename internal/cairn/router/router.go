// Package router implements Cairn's QueryRouter (spec §4.6): a single LLM
// call that classifies a search query into one of five types and extracts
// entity hints, aspects, and a temporal filter for handler dispatch in
// internal/cairn/searchv2.
//
// Grounded on original_source/cairn/core/router.py. ROUTER_SYSTEM_PROMPT is
// ported verbatim — it is a wire-format contract with the LLM (the query-type
// taxonomy, aspect definitions, entity-hint extraction rules, and few-shot
// examples), not application logic to rewrite.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/types"
)

const routerMaxTokens = 512

// QueryType is the closed set of query intents a route can be classified as.
type QueryType string

const (
	QueryEntityLookup QueryType = "entity_lookup"
	QueryAspectQuery  QueryType = "aspect_query"
	QueryTemporal     QueryType = "temporal"
	QueryRelationship QueryType = "relationship"
	QueryExploratory  QueryType = "exploratory"
)

var validQueryTypes = map[string]QueryType{
	"entity_lookup": QueryEntityLookup,
	"aspect_query":  QueryAspectQuery,
	"temporal":      QueryTemporal,
	"relationship":  QueryRelationship,
	"exploratory":   QueryExploratory,
}

// TemporalFilter narrows a temporal query to an optional window. Both
// fields hold the raw LLM-produced text (e.g. "last week") — resolving them
// to absolute timestamps is done by the temporal handler in
// internal/cairn/handlers, not by the router.
type TemporalFilter struct {
	After  string
	Before string
}

// Route is the validated result of classifying one query.
type Route struct {
	QueryType   QueryType
	Aspects     []memory.Aspect
	EntityHints []string
	Temporal    TemporalFilter
	Confidence  float64
}

// defaultRoute is returned whenever classification fails for any reason —
// matching router.py's "on any failure, returns default exploratory route."
func defaultRoute() Route {
	return Route{QueryType: QueryExploratory, Confidence: 0.5}
}

// rawRoute mirrors the LLM's JSON wire shape before validation.
type rawRoute struct {
	QueryType   string   `json:"query_type"`
	Aspects     []string `json:"aspects"`
	EntityHints []string `json:"entity_hints"`
	Temporal    struct {
		After  *string `json:"after"`
		Before *string `json:"before"`
	} `json:"temporal"`
	Confidence *float64 `json:"confidence"`
}

// Router classifies search queries via one LLM call.
type Router struct {
	llm    llm.Provider
	logger *slog.Logger
}

// New constructs a Router backed by the given LLM provider.
func New(llmProvider llm.Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{llm: llmProvider, logger: logger}
}

// Route classifies query, returning the default exploratory route on any
// failure (LLM error, no JSON found, unmarshal error) — the search pipeline
// must never block on a routing failure (spec §4.6, §7).
func (r *Router) Route(ctx context.Context, query string) Route {
	messages := []types.Message{
		{Role: "system", Content: routerSystemPrompt},
		{Role: "user", Content: query},
	}

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{Messages: messages, MaxTokens: routerMaxTokens})
	if err != nil {
		r.logger.Warn("query routing failed, defaulting to exploratory", "error", err)
		return defaultRoute()
	}

	cleaned := stripMarkdown(resp.Content)
	var raw rawRoute
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		r.logger.Warn("router: no JSON in response", "error", err)
		return defaultRoute()
	}

	return normalize(raw)
}

// normalize applies router.py's RouterOutput validators: case-insensitive
// query-type fallback to exploratory, aspect filtering against the known
// set, and confidence clamped to [0, 1].
func normalize(raw rawRoute) Route {
	route := Route{Confidence: 0.5}

	if qt, ok := validQueryTypes[strings.ToLower(strings.TrimSpace(raw.QueryType))]; ok {
		route.QueryType = qt
	} else {
		route.QueryType = QueryExploratory
	}

	for _, a := range raw.Aspects {
		if aspect, ok := memory.ValidAspect(a); ok {
			route.Aspects = append(route.Aspects, aspect)
		}
	}

	route.EntityHints = raw.EntityHints

	if raw.Temporal.After != nil {
		route.Temporal.After = *raw.Temporal.After
	}
	if raw.Temporal.Before != nil {
		route.Temporal.Before = *raw.Temporal.Before
	}

	if raw.Confidence != nil {
		route.Confidence = clamp01(*raw.Confidence)
	}

	return route
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// stripMarkdown removes a leading ```json or ``` fence and a trailing ```
// fence, matching the teacher's internal/transcript/llmcorrect.stripMarkdown.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// routerSystemPrompt is ROUTER_SYSTEM_PROMPT ported verbatim.
const routerSystemPrompt = `You classify search queries for a project-scoped memory system. The system stores memories about projects, decisions, infrastructure, and work.

## Query Types

**entity_lookup** — Query names a specific person, project, technology, or thing and wants info about it.
- "Who is Sarah?" "What is Cairn?" "Tell me about Redis"

**aspect_query** — Query asks about a specific KIND of information about an entity or topic.
- "What are Alice's preferences?" → entity_hints=["Alice"], aspects=["Preference"]
- "What decisions were made about the database?" → entity_hints=["database"], aspects=["Decision"]
- "What problems have we had with deployment?" → entity_hints=["deployment"], aspects=["Problem"]

**temporal** — Query is primarily about WHEN something happened or asks for recent activity.
- "What happened last week?" "Recent changes" "What did we do yesterday?"
- NOT temporal just because it mentions a date in passing

**relationship** — Query asks about connections BETWEEN two or more entities.
- "How are Alice and the DevOps team related?" "What's the connection between Cairn and Neo4j?"
- Requires 2+ entity_hints to be useful

**exploratory** — Broad, vague, or topic-oriented. Doesn't fit above categories.
- "How does deployment work?" "What do we know about testing?" "Search for memory-related stuff"

## Aspect Definitions (for aspect_query)
- **Identity**: Who/what something IS (name, role, type, origin, description)
- **Knowledge**: Facts someone knows or learned
- **Belief**: Opinions, worldview, what someone thinks is true
- **Preference**: Likes, dislikes, favorites, choices
- **Action**: What someone did or does regularly
- **Goal**: Aspirations, plans, intentions
- **Directive**: Rules, instructions, guidelines to follow
- **Decision**: Choices made with reasoning
- **Event**: Things that happened at a specific time
- **Problem**: Issues, bugs, blockers, failures
- **Relationship**: Connections between people/things

## Entity Hints
Extract ALL named entities in the query — people, projects, technologies, places, organizations. Be generous. "What did we deploy to production last week?" → ["production"]. "How is Alice's Cairn project going?" → ["Alice", "Cairn"].

## Rules
1. If the query mentions a specific entity AND asks about a property/aspect, prefer **aspect_query** over entity_lookup
2. If the query is about what happened in a time period, use **temporal** even if entities are mentioned
3. **exploratory** is the fallback — only use it when nothing else fits
4. Always extract entity_hints even for non-entity query types
5. Set confidence low (<0.5) if you're unsure about the classification

## Examples

Query: "What database does the project use?"
→ {"query_type": "aspect_query", "aspects": ["Identity"], "entity_hints": ["database"], "temporal": {"after": null, "before": null}, "confidence": 0.9}

Query: "Who is Alice?"
→ {"query_type": "entity_lookup", "aspects": ["Identity"], "entity_hints": ["Alice"], "temporal": {"after": null, "before": null}, "confidence": 0.95}

Query: "What happened during the deploy last week?"
→ {"query_type": "temporal", "aspects": ["Event"], "entity_hints": ["deploy"], "temporal": {"after": "last week", "before": null}, "confidence": 0.85}

Query: "How are Alice and the DevOps team connected?"
→ {"query_type": "relationship", "aspects": ["Relationship"], "entity_hints": ["Alice", "DevOps team"], "temporal": {"after": null, "before": null}, "confidence": 0.9}

Query: "What do we know about caching?"
→ {"query_type": "exploratory", "aspects": [], "entity_hints": ["caching"], "temporal": {"after": null, "before": null}, "confidence": 0.7}

Query: "What decisions were made about the API?"
→ {"query_type": "aspect_query", "aspects": ["Decision"], "entity_hints": ["API"], "temporal": {"after": null, "before": null}, "confidence": 0.85}

Return ONLY the JSON object.`
