// Package extract implements Cairn's KnowledgeExtractor (spec §4.5): a
// single LLM call per memory that produces entities, statements, tags,
// importance, and a summary, followed by a resolve-and-persist step that
// merges or creates graph entities and detects contradicting statements.
//
// Grounded on original_source/cairn/core/extraction.py. JSON parsing follows
// the teacher's internal/transcript/llmcorrect.parseResponse pattern
// (strip markdown code fences, json.Unmarshal, wrap errors) rather than a
// hand-rolled brace scanner.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/graph/entityresolve"
)

const extractMaxTokens = 2048

// Entity is one extracted, validated entity mention.
type Entity struct {
	Name       string
	Type       memory.EntityType
	Attributes map[string]string
}

// Statement is one extracted, validated statement (a subject/predicate/object
// triple plus its natural-language fact).
type Statement struct {
	Subject   string
	Predicate string
	Object    string
	Fact      string
	Aspect    memory.Aspect
	EventDate *time.Time
}

// Result is the validated output of one extraction call (spec §4.5).
type Result struct {
	Entities   []Entity
	Statements []Statement
	Tags       []string
	Importance float64
	Summary    string
}

// PersistSummary reports what resolve-and-persist did, for logging/metrics.
type PersistSummary struct {
	EntitiesCreated     int
	EntitiesMerged      int
	StatementsCreated   int
	ContradictionsFound int
}

// rawEntity/rawStatement/rawResult mirror the LLM's JSON wire shape before
// validation — field names map directly onto extraction_prompt.go's
// documented output format.
type rawEntity struct {
	Name       string            `json:"name"`
	EntityType string            `json:"entity_type"`
	Attributes map[string]string `json:"attributes"`
}

type rawStatement struct {
	Subject   string  `json:"subject"`
	Predicate string  `json:"predicate"`
	Object    string  `json:"object"`
	Fact      string  `json:"fact"`
	Aspect    string  `json:"aspect"`
	EventDate *string `json:"event_date"`
}

type rawResult struct {
	Entities   []rawEntity    `json:"entities"`
	Statements []rawStatement `json:"statements"`
	Tags       []string       `json:"tags"`
	Importance *float64       `json:"importance"`
	Summary    string         `json:"summary"`
}

// Extractor runs the combined extraction + enrichment LLM call and persists
// its validated output to the knowledge graph.
type Extractor struct {
	llm      llm.Provider
	embedder embeddings.Provider
	graph    memory.GraphProvider
	resolver *entityresolve.Matcher
	logger   *slog.Logger

	// embedCache memoizes name/fact embeddings for the Extractor's lifetime
	// (it is never cleared), matching extraction.py's _cached_embed — a sync.Map gives
	// per-key locking rather than one process-wide mutex (spec §5's "short-held
	// lock" generalized per DESIGN NOTES §9).
	embedCache sync.Map
}

// New constructs an Extractor. resolver may be nil, in which case entity
// resolution relies solely on cosine similarity.
func New(llmProvider llm.Provider, embedder embeddings.Provider, graph memory.GraphProvider, resolver *entityresolve.Matcher, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = entityresolve.New()
	}
	return &Extractor{llm: llmProvider, embedder: embedder, graph: graph, resolver: resolver, logger: logger}
}

// Extract runs the extraction LLM call, retrying once with error feedback on
// parse failure. On a second failure it returns a minimal, non-nil Result
// (empty tags, importance 0.5, empty summary) rather than an error — spec
// §4.5 requires extraction to always proceed, never block ingestion.
func (e *Extractor) Extract(ctx context.Context, content string, createdAt time.Time, author memory.Author) (*Result, error) {
	messages := buildExtractionMessages(content, createdAt, author, nil)
	raw, err := e.llm.Complete(ctx, llm.CompletionRequest{Messages: messages, MaxTokens: extractMaxTokens})
	if err == nil {
		result, parseErr := parse(raw.Content)
		if parseErr == nil {
			return result, nil
		}
		err = parseErr
	}

	e.logger.Warn("extraction first attempt failed", "error", err)

	retryMessages := buildRetryMessages(content, err.Error())
	raw, retryErr := e.llm.Complete(ctx, llm.CompletionRequest{Messages: retryMessages, MaxTokens: extractMaxTokens})
	if retryErr == nil {
		if result, parseErr := parse(raw.Content); parseErr == nil {
			return result, nil
		}
	}

	e.logger.Warn("extraction retry failed, returning minimal enrichment")
	return &Result{Importance: 0.5}, nil
}

// parse validates an LLM response into a [Result], rejecting the whole
// response (triggering a retry) if any entity type fails case-insensitive
// validation — matching extraction.py's pydantic field_validator semantics.
// A statement whose aspect is not a known aspect is dropped silently and the
// rest of the response is kept.
func parse(content string) (*Result, error) {
	cleaned := stripMarkdown(content)

	var raw rawResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("extract: parse response: %w", err)
	}

	result := &Result{Importance: 0.5}

	for _, re := range raw.Entities {
		typ, ok := memory.ValidEntityType(re.EntityType)
		if !ok {
			return nil, fmt.Errorf("extract: invalid entity type %q for entity %q", re.EntityType, re.Name)
		}
		result.Entities = append(result.Entities, Entity{Name: re.Name, Type: typ, Attributes: re.Attributes})
	}

	for _, rs := range raw.Statements {
		aspect, ok := memory.ValidAspect(rs.Aspect)
		if !ok {
			continue
		}
		var eventDate *time.Time
		if rs.EventDate != nil && *rs.EventDate != "" {
			if t, err := time.Parse("2006-01-02", *rs.EventDate); err == nil {
				eventDate = &t
			} else if t, err := time.Parse(time.RFC3339, *rs.EventDate); err == nil {
				eventDate = &t
			}
		}
		result.Statements = append(result.Statements, Statement{
			Subject:   rs.Subject,
			Predicate: rs.Predicate,
			Object:    rs.Object,
			Fact:      memory.TruncateFact(rs.Fact),
			Aspect:    aspect,
			EventDate: eventDate,
		})
	}

	result.Tags = normalizeTags(raw.Tags)
	if raw.Importance != nil {
		result.Importance = clamp01(*raw.Importance)
	}
	result.Summary = raw.Summary

	return result, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == 10 {
			break
		}
	}
	return out
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

// cachedEmbed embeds text with a per-process, per-key-locked cache (see
// Extractor.embedCache doc comment).
func (e *Extractor) cachedEmbed(ctx context.Context, text string) ([]float32, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if v, ok := e.embedCache.Load(key); ok {
		return v.([]float32), nil
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.embedCache.Store(key, vec)
	return vec, nil
}

// ResolveAndPersist resolves each extracted entity to an existing or newly
// created graph entity, detects and invalidates contradicting statements,
// and persists the new statements and triples. Mirrors extraction.py's
// resolve_and_persist method/field-for-field.
func (e *Extractor) ResolveAndPersist(ctx context.Context, result *Result, episodeID int64, project string) (PersistSummary, error) {
	var summary PersistSummary
	entityMap := make(map[string]string, len(result.Entities)) // name -> UUID

	for _, ent := range result.Entities {
		uuid, merged, err := e.resolveEntity(ctx, ent, project)
		if err != nil {
			e.logger.Warn("entity resolution failed", "entity", ent.Name, "error", err)
			continue
		}
		entityMap[ent.Name] = uuid
		if merged {
			summary.EntitiesMerged++
		} else {
			summary.EntitiesCreated++
		}
	}

	for _, stmt := range result.Statements {
		subjectUUID, ok := entityMap[stmt.Subject]
		if !ok {
			e.logger.Debug("skipping statement, subject not resolved", "subject", stmt.Subject)
			continue
		}

		existing, err := e.graph.FindContradictions(ctx, subjectUUID, stmt.Predicate, project)
		if err != nil {
			e.logger.Warn("contradiction lookup failed", "subject", stmt.Subject, "predicate", stmt.Predicate, "error", err)
		}
		for _, old := range existing {
			if err := e.graph.InvalidateStatement(ctx, old.UUID, "extraction"); err != nil {
				e.logger.Warn("failed to invalidate contradicting statement", "uuid", old.UUID, "error", err)
				continue
			}
			summary.ContradictionsFound++
		}

		factEmbedding, err := e.cachedEmbed(ctx, stmt.Fact)
		if err != nil {
			e.logger.Warn("fact embedding failed", "fact", stmt.Fact, "error", err)
			continue
		}

		validAt := time.Now()
		if stmt.EventDate != nil {
			validAt = *stmt.EventDate
		}

		stmtUUID, err := e.graph.CreateStatement(ctx, stmt.Fact, factEmbedding, stmt.Aspect, episodeID, project, validAt)
		if err != nil {
			e.logger.Warn("statement creation failed", "fact", stmt.Fact, "error", err)
			continue
		}

		objectUUID, isEntity := entityMap[stmt.Object]
		objectLiteral := ""
		if !isEntity {
			objectLiteral = stmt.Object
		}
		if err := e.graph.CreateTriple(ctx, stmtUUID, subjectUUID, stmt.Predicate, objectUUID, objectLiteral); err != nil {
			e.logger.Warn("triple creation failed", "statement", stmtUUID, "error", err)
			continue
		}
		summary.StatementsCreated++
	}

	return summary, nil
}

// resolveEntity finds or creates the graph entity for ent, returning its
// UUID and whether it was merged into an existing entity. Resolution tries
// two signals in order: cosine similarity above the merge threshold (primary,
// via FindSimilarEntities), then phonetic/fuzzy name matching against the
// nearest embeddings of any type (secondary, via entityresolve — catches
// misspellings that miss the cosine cutoff, spec §4.5/§9).
func (e *Extractor) resolveEntity(ctx context.Context, ent Entity, project string) (uuid string, merged bool, err error) {
	nameEmbedding, err := e.cachedEmbed(ctx, ent.Name)
	if err != nil {
		return "", false, err
	}

	similar, err := e.graph.FindSimilarEntities(ctx, nameEmbedding, ent.Type, project)
	if err != nil {
		return "", false, err
	}
	if len(similar) > 0 {
		return similar[0].UUID, true, nil
	}

	candidates, err := e.graph.SearchEntitiesByEmbedding(ctx, nameEmbedding, project, 10)
	if err == nil && len(candidates) > 0 {
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		if corrected, _, matched := e.resolver.Match(ent.Name, names); matched {
			for _, c := range candidates {
				if c.Name == corrected && (strings.EqualFold(c.Name, ent.Name) || c.Type == ent.Type) {
					return c.UUID, true, nil
				}
			}
		}
	}

	created, err := e.graph.CreateEntity(ctx, ent.Name, ent.Type, nameEmbedding, project, ent.Attributes)
	if err != nil {
		return "", false, err
	}
	return created, false, nil
}
