// Package postgres provides a PostgreSQL-backed implementation of Cairn's
// [memory.MemoryStore] and [memory.GraphProvider] contracts, built on
// pgx/v5 and pgvector-go.
//
// A single [pgxpool.Pool] connection pool backs both the memory store and the
// knowledge graph. The pgvector extension must be available in the target
// database; [Migrate] installs it automatically via CREATE EXTENSION IF NOT
// EXISTS.
//
// Usage:
//
//	store, graph, err := postgres.NewStore(ctx, dsn, 1536, memory.NopPublisher{}, postgres.DefaultEntityMergeThreshold)
//	if err != nil { … }
//
//	res, _ := store.Store(ctx, memory.StoreParams{Content: "...", Project: "P"})
//	entities, _ := graph.FindSimilarEntities(ctx, embedding, memory.EntityPerson, "P")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Relational store DDL — memories, projects, memory_relations
// ─────────────────────────────────────────────────────────────────────────────

const ddlProjects = `
CREATE TABLE IF NOT EXISTS projects (
    name       TEXT        PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ddlMemories returns the memories table DDL with the embedding dimension
// baked into the vector column type, mirroring the teacher's ddlL2 pattern:
// the dimension is fixed per deployment and substituted at migration time
// rather than configured per-row.
func ddlMemories(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id              BIGSERIAL    PRIMARY KEY,
    project         TEXT         NOT NULL REFERENCES projects (name),
    content         TEXT         NOT NULL,
    summary         TEXT         NOT NULL DEFAULT '',
    memory_type     TEXT         NOT NULL DEFAULT 'note',
    importance      DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    tags            TEXT[]       NOT NULL DEFAULT '{}',
    auto_tags       TEXT[]       NOT NULL DEFAULT '{}',
    related_files   TEXT[]       NOT NULL DEFAULT '{}',
    session_id      TEXT         NOT NULL DEFAULT '',
    author          TEXT         NOT NULL DEFAULT 'user',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    active          BOOLEAN      NOT NULL DEFAULT true,
    inactive_reason TEXT         NOT NULL DEFAULT '',
    embedding       vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_memories_project ON memories (project);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories (memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_active ON memories (active);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories (created_at);
CREATE INDEX IF NOT EXISTS idx_memories_tags ON memories USING GIN (tags);

CREATE INDEX IF NOT EXISTS idx_memories_fts ON memories
    USING GIN (to_tsvector('english', content || ' ' || summary));

CREATE INDEX IF NOT EXISTS idx_memories_embedding ON memories
    USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlMemoryRelations = `
CREATE TABLE IF NOT EXISTS memory_relations (
    source_id  BIGINT      NOT NULL REFERENCES memories (id) ON DELETE CASCADE,
    target_id  BIGINT      NOT NULL REFERENCES memories (id) ON DELETE CASCADE,
    relation   TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, target_id, relation),
    CHECK (source_id <> target_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_relations_source ON memory_relations (source_id);
CREATE INDEX IF NOT EXISTS idx_memory_relations_target ON memory_relations (target_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph DDL — entities, statements, triples
// ─────────────────────────────────────────────────────────────────────────────

// ddlGraph returns the entity/statement/triple DDL with the embedding
// dimension baked into both vector columns.
func ddlGraph(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS entities (
    uuid           TEXT         PRIMARY KEY,
    name           TEXT         NOT NULL,
    type           TEXT         NOT NULL,
    name_embedding vector(%d),
    project        TEXT         NOT NULL REFERENCES projects (name),
    attributes     JSONB        NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_project_type ON entities (project, type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities (name);
CREATE INDEX IF NOT EXISTS idx_entities_embedding ON entities
    USING hnsw (name_embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS statements (
    uuid           TEXT         PRIMARY KEY,
    fact           TEXT         NOT NULL,
    fact_embedding vector(%d),
    aspect         TEXT         NOT NULL,
    project        TEXT         NOT NULL REFERENCES projects (name),
    episode_id     BIGINT       NOT NULL REFERENCES memories (id) ON DELETE CASCADE,
    valid_from     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    invalidated_at TIMESTAMPTZ,
    invalidated_by TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_statements_aspect ON statements (aspect);
CREATE INDEX IF NOT EXISTS idx_statements_valid_from ON statements (valid_from);
CREATE INDEX IF NOT EXISTS idx_statements_episode ON statements (episode_id);
CREATE INDEX IF NOT EXISTS idx_statements_active ON statements (invalidated_at) WHERE invalidated_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_statements_embedding ON statements
    USING hnsw (fact_embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS triples (
    statement_id      TEXT NOT NULL PRIMARY KEY REFERENCES statements (uuid) ON DELETE CASCADE,
    subject_entity_id TEXT NOT NULL REFERENCES entities (uuid) ON DELETE CASCADE,
    predicate         TEXT NOT NULL,
    object_entity_id  TEXT REFERENCES entities (uuid) ON DELETE CASCADE,
    object_literal    TEXT,
    CHECK ((object_entity_id IS NULL) <> (object_literal IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples (subject_entity_id, predicate);
CREATE INDEX IF NOT EXISTS idx_triples_object ON triples (object_entity_id);
`, embeddingDimensions, embeddingDimensions)
}

// Migrate creates or ensures all required database tables, indexes, and
// extensions exist. It is idempotent (CREATE TABLE/INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the dimensionality of the configured
// Embedder (spec §4.1's startup reconciliation: the store refuses to start
// on a mismatch against an already-migrated schema — see [NewStore]).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlProjects,
		ddlMemories(embeddingDimensions),
		ddlMemoryRelations,
		ddlGraph(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
