// Package memory defines Cairn's persistence contracts: the [MemoryStore],
// which owns memories and their embedding/lexical/tag indexes (spec §4.3),
// and the [GraphProvider], which owns the entity/statement/triple knowledge
// graph (spec §4.4).
//
// Both interfaces are public so that alternative backends (Postgres/pgvector,
// an in-memory fake for tests, …) can be supplied without the retrieval core
// depending on any specific driver. Every implementation must be safe for
// concurrent use.
package memory

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore
// ─────────────────────────────────────────────────────────────────────────────

// StoreParams carries the fields accepted by [MemoryStore.Store]. Type
// defaults to [MemoryNote] and Importance to 0.5 when left zero.
type StoreParams struct {
	Content      string
	Project      string
	Type         MemoryType
	Importance   float64
	Tags         []string
	SessionID    string
	Author       Author
	RelatedFiles []string

	// Embedding is the caller-supplied vector for Content, produced by the
	// configured Embedder before calling Store. The store never embeds text
	// itself — keeping the I/O-bound embedding call at the orchestration
	// layer where its timeout and retry policy (spec §4.1, §5) apply.
	Embedding []float32
}

// StoreResult is returned by [MemoryStore.Store].
type StoreResult struct {
	ID        int64
	CreatedAt time.Time
}

// ModifyAction selects the operation performed by [MemoryStore.Modify].
type ModifyAction string

const (
	ActionUpdate     ModifyAction = "update"
	ActionInactivate ModifyAction = "inactivate"
)

// ModifyParams carries the optional fields for [MemoryStore.Modify]. Nil
// pointer fields are left unchanged; Reason is only consulted when Action is
// ActionInactivate.
type ModifyParams struct {
	Action     ModifyAction
	Content    *string
	Summary    *string
	Importance *float64
	Tags       []string
	Reason     string
}

// ScoredMemory pairs a Memory with its 1-based rank within a single search
// signal, the unit [search.RRF] fuses across signals.
type ScoredMemory struct {
	Memory Memory
	Rank   int
}

// MemoryStore is Cairn's memory persistence contract (spec §4.3). Writes are
// transactional per operation; a Store or Modify call's commit happens-before
// any event it publishes (events are recovery hints, not the source of
// truth — spec §4.3, §5).
type MemoryStore interface {
	// Store creates project (if it doesn't already exist), inserts a new
	// Memory row, and publishes a memory.created event carrying enough
	// payload to drive async enrichment. Returns the assigned ID and
	// creation timestamp.
	Store(ctx context.Context, params StoreParams) (StoreResult, error)

	// Recall returns the full rows for the given IDs, in no particular
	// order. IDs that don't exist (or belong to an inactive memory the
	// caller hasn't requested) are silently omitted.
	Recall(ctx context.Context, ids []int64) ([]Memory, error)

	// Modify applies params.Action to the memory identified by id and
	// publishes the corresponding memory.updated or memory.inactivated
	// event. Inactivation flips Active to false and never deletes the row.
	Modify(ctx context.Context, id int64, params ModifyParams) error

	// GetRules returns active rule-type memories visible to project: those
	// owned by project plus those owned by [GlobalProject].
	GetRules(ctx context.Context, project string) ([]Memory, error)

	// ExportProject returns every memory (active and inactive) owned by
	// project.
	ExportProject(ctx context.Context, project string) ([]Memory, error)

	// VectorSearch ranks active memories by cosine similarity between
	// embedding and each memory's stored embedding, filtered by project and
	// memType (either may be nil to mean "no filter"). Returns up to topK
	// results ordered by descending similarity; rank 1 is the closest match.
	VectorSearch(ctx context.Context, embedding []float32, project, memType []string, topK int) ([]ScoredMemory, error)

	// KeywordSearch ranks active memories by full-text relevance of query
	// against content and summary. Returns up to topK results ordered by
	// descending relevance.
	KeywordSearch(ctx context.Context, query string, project, memType []string, topK int) ([]ScoredMemory, error)

	// TagSearch ranks active memories by the count of tokens that exactly
	// match a user tag, ties broken by importance descending. Returns up to
	// topK results.
	TagSearch(ctx context.Context, tokens []string, project, memType []string, topK int) ([]ScoredMemory, error)

	// TemporalSearch returns active memories created within [after, before]
	// (either bound may be zero to mean unbounded), ordered by created_at
	// descending, capped at limit.
	TemporalSearch(ctx context.Context, project []string, after, before time.Time, limit int) ([]Memory, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// GraphProvider
// ─────────────────────────────────────────────────────────────────────────────

// GraphSnapshot is a point-in-time view of a project's knowledge graph,
// returned by [GraphProvider.Visualization] for UI consumption. Not on the
// critical search path.
type GraphSnapshot struct {
	Entities   []Entity
	Statements []Statement
}

// GraphProvider is Cairn's knowledge-graph persistence contract (spec §4.4).
//
// Read primitives return an empty (non-nil) slice on an unreachable backend
// rather than an error — callers degrade gracefully by treating "no results"
// as "no graph evidence," per the fallback contract in spec §7. Write
// primitives surface errors so callers can retry; delivery is at-least-once
// (spec §1 non-goals), so every write here must be safe to repeat with the
// same arguments.
type GraphProvider interface {
	// CreateEntity inserts a new entity and returns its UUID. Callers should
	// first attempt FindSimilarEntities to avoid creating a near-duplicate.
	CreateEntity(ctx context.Context, name string, typ EntityType, embedding []float32, project string, attrs map[string]string) (string, error)

	// FindSimilarEntities returns entities of the same type and project whose
	// name-embedding cosine similarity to embedding exceeds the configured
	// merge threshold, most-similar first, capped at 5 results, deduplicated
	// by UUID.
	FindSimilarEntities(ctx context.Context, embedding []float32, typ EntityType, project string) ([]Entity, error)

	// SearchEntitiesByEmbedding returns up to limit entities in project
	// ordered by descending cosine similarity to embedding, with no type
	// filter and no merge-threshold cutoff (pure similarity search, used by
	// query-entity resolution in searchv2).
	SearchEntitiesByEmbedding(ctx context.Context, embedding []float32, project string, limit int) ([]Entity, error)

	// CreateStatement inserts a new statement scoped to episodeID and
	// returns its UUID.
	CreateStatement(ctx context.Context, fact string, embedding []float32, aspect Aspect, episodeID int64, project string, validAt time.Time) (string, error)

	// CreateTriple inserts the (subject, predicate, object) edge for
	// statementID. Exactly one of objectID / objectLiteral must be
	// non-empty.
	CreateTriple(ctx context.Context, statementID, subjectID, predicate, objectID, objectLiteral string) error

	// FindContradictions returns active statements in project whose triples
	// share (subjectID, predicate) with a newly extracted fact — the
	// candidates to invalidate before inserting a superseding statement.
	FindContradictions(ctx context.Context, subjectID, predicate, project string) ([]Statement, error)

	// InvalidateStatement marks uuid inactive, recording invalidatedBy as
	// the reason. Invalidating an already-inactive or nonexistent statement
	// is not an error (idempotent, per spec §4.11).
	InvalidateStatement(ctx context.Context, uuid, invalidatedBy string) error

	// FindEntityEpisodes returns the distinct episode (Memory) IDs of every
	// active statement whose subject or object is entityUUID.
	FindEntityEpisodes(ctx context.Context, entityUUID string) ([]int64, error)

	// FindEntityStatements returns active statements whose subject or object
	// is entityUUID, optionally filtered to the given aspects (a nil or
	// empty slice means no filter).
	FindEntityStatements(ctx context.Context, entityUUID string, aspects []Aspect) ([]Statement, error)

	// FindConnectingStatements returns active statements on a shortest path
	// (bounded by maxDepth hops, itself capped at
	// [DefaultRelationshipBFSDepth]) between entities a and b over the
	// bipartite entity-statement adjacency.
	FindConnectingStatements(ctx context.Context, uuidA, uuidB string, maxDepth int) ([]Statement, error)

	// BFSTraverse returns every active statement reachable from startUUID
	// within maxDepth hops over the bipartite entity-statement adjacency,
	// excluding hop-0 (startUUID's own directly-attached statements are
	// included; callers distinguish hop 1 from deeper hops themselves by
	// cross-referencing FindEntityStatements).
	BFSTraverse(ctx context.Context, startUUID string, maxDepth int) ([]Statement, error)

	// SearchStatementsByAspect returns the distinct episode IDs of active
	// statements in project matching any of aspects.
	SearchStatementsByAspect(ctx context.Context, aspects []Aspect, project string) ([]int64, error)

	// Visualization returns a snapshot of project's graph, optionally
	// filtered to entityTypes, capped at limit entities. Not on the
	// critical search path.
	Visualization(ctx context.Context, project string, entityTypes []EntityType, limit int) (GraphSnapshot, error)
}
