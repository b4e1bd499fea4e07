package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// DefaultRelationshipBFSDepth bounds [Graph.FindConnectingStatements] and
// [Graph.BFSTraverse] (spec §4.4 design value, §5 "BFS therefore runs over
// the bipartite adjacency; depth is small (≤ 3) and enforced as a hard cap").
const DefaultRelationshipBFSDepth = 3

// ─────────────────────────────────────────────────────────────────────────────
// Entity writes and similarity search
// ─────────────────────────────────────────────────────────────────────────────

// CreateEntity implements [memory.GraphProvider].
func (g *Graph) CreateEntity(ctx context.Context, name string, typ memory.EntityType, embedding []float32, project string, attrs map[string]string) (string, error) {
	const q = `
		INSERT INTO entities (uuid, name, type, name_embedding, project, attributes)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
		RETURNING uuid`

	if attrs == nil {
		attrs = map[string]string{}
	}

	var uuid string
	row := g.pool.QueryRow(ctx, q, name, typ, pgvector.NewVector(embedding), project, attrsToJSONB(attrs))
	if err := row.Scan(&uuid); err != nil {
		return "", fmt.Errorf("graph: create entity: %w", err)
	}
	return uuid, nil
}

// FindSimilarEntities implements [memory.GraphProvider], applying the
// configured merge threshold (spec §9 Open Question 1).
func (g *Graph) FindSimilarEntities(ctx context.Context, embedding []float32, typ memory.EntityType, project string) ([]memory.Entity, error) {
	const q = `
		SELECT uuid, name, type, name_embedding, project, attributes, created_at,
		       1 - (name_embedding <=> $1) AS similarity
		FROM   entities
		WHERE  type = $2 AND project = $3 AND name_embedding IS NOT NULL
		  AND  1 - (name_embedding <=> $1) > $4
		ORDER  BY similarity DESC
		LIMIT  5`

	rows, err := g.pool.Query(ctx, q, pgvector.NewVector(embedding), typ, project, g.mergeThreshold)
	if err != nil {
		return nil, fmt.Errorf("graph: find similar entities: %w", err)
	}
	return collectEntitiesWithTrailingFloat(rows)
}

// SearchEntitiesByEmbedding implements [memory.GraphProvider].
func (g *Graph) SearchEntitiesByEmbedding(ctx context.Context, embedding []float32, project string, limit int) ([]memory.Entity, error) {
	const q = `
		SELECT uuid, name, type, name_embedding, project, attributes, created_at
		FROM   entities
		WHERE  project = $1 AND name_embedding IS NOT NULL
		ORDER  BY name_embedding <=> $2
		LIMIT  $3`

	rows, err := g.pool.Query(ctx, q, project, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("graph: search entities by embedding: %w", err)
	}
	return collectGraphEntities(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Statement / triple writes
// ─────────────────────────────────────────────────────────────────────────────

// CreateStatement implements [memory.GraphProvider]. Fact is truncated to
// [memory.MaxFactWords] before insertion.
func (g *Graph) CreateStatement(ctx context.Context, fact string, embedding []float32, aspect memory.Aspect, episodeID int64, project string, validAt time.Time) (string, error) {
	const q = `
		INSERT INTO statements (uuid, fact, fact_embedding, aspect, project, episode_id, valid_from)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6)
		RETURNING uuid`

	var uuid string
	row := g.pool.QueryRow(ctx, q,
		memory.TruncateFact(fact),
		pgvector.NewVector(embedding),
		aspect,
		project,
		episodeID,
		validAt,
	)
	if err := row.Scan(&uuid); err != nil {
		return "", fmt.Errorf("graph: create statement: %w", err)
	}
	return uuid, nil
}

// CreateTriple implements [memory.GraphProvider].
func (g *Graph) CreateTriple(ctx context.Context, statementID, subjectID, predicate, objectID, objectLiteral string) error {
	if (objectID == "") == (objectLiteral == "") {
		return fmt.Errorf("graph: create triple: exactly one of objectID/objectLiteral must be set")
	}

	const q = `
		INSERT INTO triples (statement_id, subject_entity_id, predicate, object_entity_id, object_literal)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`

	if _, err := g.pool.Exec(ctx, q, statementID, subjectID, predicate, objectID, objectLiteral); err != nil {
		return fmt.Errorf("graph: create triple: %w", err)
	}
	return nil
}

// FindContradictions implements [memory.GraphProvider].
func (g *Graph) FindContradictions(ctx context.Context, subjectID, predicate, project string) ([]memory.Statement, error) {
	const q = `
		SELECT s.uuid, s.fact, s.fact_embedding, s.aspect, s.project, s.episode_id,
		       s.valid_from, s.invalidated_at, s.invalidated_by
		FROM   statements s
		JOIN   triples    t ON t.statement_id = s.uuid
		WHERE  t.subject_entity_id = $1
		  AND  t.predicate         = $2
		  AND  s.project           = $3
		  AND  s.invalidated_at IS NULL`

	rows, err := g.pool.Query(ctx, q, subjectID, predicate, project)
	if err != nil {
		return nil, fmt.Errorf("graph: find contradictions: %w", err)
	}
	return collectStatements(rows)
}

// InvalidateStatement implements [memory.GraphProvider]. Idempotent: marking
// an already-inactive or nonexistent statement is not an error.
func (g *Graph) InvalidateStatement(ctx context.Context, uuid, invalidatedBy string) error {
	const q = `
		UPDATE statements
		SET    invalidated_at = now(), invalidated_by = $2
		WHERE  uuid = $1 AND invalidated_at IS NULL`

	if _, err := g.pool.Exec(ctx, q, uuid, invalidatedBy); err != nil {
		return fmt.Errorf("graph: invalidate statement: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads over the bipartite entity-statement adjacency
// ─────────────────────────────────────────────────────────────────────────────

// FindEntityEpisodes implements [memory.GraphProvider].
func (g *Graph) FindEntityEpisodes(ctx context.Context, entityUUID string) ([]int64, error) {
	const q = `
		SELECT DISTINCT s.episode_id
		FROM   statements s
		JOIN   triples    t ON t.statement_id = s.uuid
		WHERE  (t.subject_entity_id = $1 OR t.object_entity_id = $1)
		  AND  s.invalidated_at IS NULL`

	rows, err := g.pool.Query(ctx, q, entityUUID)
	if err != nil {
		return nil, fmt.Errorf("graph: find entity episodes: %w", err)
	}
	return collectInt64s(rows)
}

// FindEntityStatements implements [memory.GraphProvider].
func (g *Graph) FindEntityStatements(ctx context.Context, entityUUID string, aspects []memory.Aspect) ([]memory.Statement, error) {
	args := []any{entityUUID} // $1
	aspectFilter := ""
	if len(aspects) > 0 {
		args = append(args, aspects)
		aspectFilter = fmt.Sprintf("\n  AND  s.aspect = ANY($%d::text[])", len(args))
	}

	q := fmt.Sprintf(`
		SELECT DISTINCT s.uuid, s.fact, s.fact_embedding, s.aspect, s.project, s.episode_id,
		       s.valid_from, s.invalidated_at, s.invalidated_by
		FROM   statements s
		JOIN   triples    t ON t.statement_id = s.uuid
		WHERE  (t.subject_entity_id = $1 OR t.object_entity_id = $1)
		  AND  s.invalidated_at IS NULL%s`, aspectFilter)

	rows, err := g.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: find entity statements: %w", err)
	}
	return collectStatements(rows)
}

// FindConnectingStatements implements [memory.GraphProvider] using a
// recursive CTE over the bipartite entity<->statement adjacency, mirroring
// the teacher's FindPath traversal shape but alternating entity and
// statement hops instead of a single entities-only adjacency.
func (g *Graph) FindConnectingStatements(ctx context.Context, uuidA, uuidB string, maxDepth int) ([]memory.Statement, error) {
	if maxDepth <= 0 || maxDepth > DefaultRelationshipBFSDepth {
		maxDepth = DefaultRelationshipBFSDepth
	}

	const q = `
		WITH RECURSIVE search(entity_id, path, statements, depth) AS (
		    SELECT $1::text, ARRAY[$1::text], ARRAY[]::text[], 0

		    UNION ALL

		    SELECT next_entity, search.path || next_entity, search.statements || t.statement_id, search.depth + 1
		    FROM   search
		    JOIN   triples t
		           ON t.subject_entity_id = search.entity_id
		           OR t.object_entity_id  = search.entity_id
		    JOIN   statements s ON s.uuid = t.statement_id AND s.invalidated_at IS NULL
		    CROSS JOIN LATERAL (
		        SELECT CASE WHEN t.subject_entity_id = search.entity_id
		                    THEN t.object_entity_id ELSE t.subject_entity_id END AS next_entity
		    ) hop
		    WHERE  search.depth < $3
		      AND  hop.next_entity IS NOT NULL
		      AND  NOT (hop.next_entity = ANY(search.path))
		)
		SELECT statements
		FROM   search
		WHERE  entity_id = $2
		ORDER  BY depth
		LIMIT  1`

	row := g.pool.QueryRow(ctx, q, uuidA, uuidB, maxDepth)

	var statementIDs []string
	if err := row.Scan(&statementIDs); err != nil {
		if isNoRows(err) {
			return []memory.Statement{}, nil
		}
		return nil, fmt.Errorf("graph: find connecting statements: %w", err)
	}
	return g.fetchStatementsIn(ctx, statementIDs)
}

// BFSTraverse implements [memory.GraphProvider].
func (g *Graph) BFSTraverse(ctx context.Context, startUUID string, maxDepth int) ([]memory.Statement, error) {
	if maxDepth > DefaultRelationshipBFSDepth {
		maxDepth = DefaultRelationshipBFSDepth
	}

	const q = `
		WITH RECURSIVE search(entity_id, statement_id, visited, depth) AS (
		    SELECT $1::text, NULL::text, ARRAY[$1::text], 0

		    UNION ALL

		    SELECT next_entity, t.statement_id, search.visited || next_entity, search.depth + 1
		    FROM   search
		    JOIN   triples t
		           ON t.subject_entity_id = search.entity_id
		           OR t.object_entity_id  = search.entity_id
		    JOIN   statements s ON s.uuid = t.statement_id AND s.invalidated_at IS NULL
		    CROSS JOIN LATERAL (
		        SELECT CASE WHEN t.subject_entity_id = search.entity_id
		                    THEN t.object_entity_id ELSE t.subject_entity_id END AS next_entity
		    ) hop
		    WHERE  search.depth < $2
		      AND  hop.next_entity IS NOT NULL
		      AND  NOT (hop.next_entity = ANY(search.visited))
		)
		SELECT DISTINCT s.uuid, s.fact, s.fact_embedding, s.aspect, s.project, s.episode_id,
		       s.valid_from, s.invalidated_at, s.invalidated_by
		FROM   search
		JOIN   statements s ON s.uuid = search.statement_id
		WHERE  search.statement_id IS NOT NULL`

	rows, err := g.pool.Query(ctx, q, startUUID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("graph: bfs traverse: %w", err)
	}
	return collectStatements(rows)
}

// SearchStatementsByAspect implements [memory.GraphProvider].
func (g *Graph) SearchStatementsByAspect(ctx context.Context, aspects []memory.Aspect, project string) ([]int64, error) {
	if len(aspects) == 0 {
		return []int64{}, nil
	}
	const q = `
		SELECT DISTINCT episode_id
		FROM   statements
		WHERE  aspect = ANY($1::text[]) AND project = $2 AND invalidated_at IS NULL`

	rows, err := g.pool.Query(ctx, q, aspects, project)
	if err != nil {
		return nil, fmt.Errorf("graph: search statements by aspect: %w", err)
	}
	return collectInt64s(rows)
}

// Visualization implements [memory.GraphProvider]. Not on the critical search
// path.
func (g *Graph) Visualization(ctx context.Context, project string, entityTypes []memory.EntityType, limit int) (memory.GraphSnapshot, error) {
	args := []any{project} // $1
	typeFilter := ""
	if len(entityTypes) > 0 {
		args = append(args, entityTypes)
		typeFilter = fmt.Sprintf(" AND type = ANY($%d::text[])", len(args))
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	qEntities := fmt.Sprintf(`
		SELECT uuid, name, type, name_embedding, project, attributes, created_at
		FROM   entities
		WHERE  project = $1%s
		ORDER  BY created_at
		LIMIT  %s`, typeFilter, limitArg)

	rows, err := g.pool.Query(ctx, qEntities, args...)
	if err != nil {
		return memory.GraphSnapshot{}, fmt.Errorf("graph: visualization: entities: %w", err)
	}
	entities, err := collectGraphEntities(rows)
	if err != nil {
		return memory.GraphSnapshot{}, fmt.Errorf("graph: visualization: %w", err)
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.UUID
	}

	const qStatements = `
		SELECT DISTINCT s.uuid, s.fact, s.fact_embedding, s.aspect, s.project, s.episode_id,
		       s.valid_from, s.invalidated_at, s.invalidated_by
		FROM   statements s
		JOIN   triples    t ON t.statement_id = s.uuid
		WHERE  t.subject_entity_id = ANY($1::text[]) OR t.object_entity_id = ANY($1::text[])`

	var statements []memory.Statement
	if len(ids) > 0 {
		srows, err := g.pool.Query(ctx, qStatements, ids)
		if err != nil {
			return memory.GraphSnapshot{}, fmt.Errorf("graph: visualization: statements: %w", err)
		}
		statements, err = collectStatements(srows)
		if err != nil {
			return memory.GraphSnapshot{}, fmt.Errorf("graph: visualization: %w", err)
		}
	} else {
		statements = []memory.Statement{}
	}

	return memory.GraphSnapshot{Entities: entities, Statements: statements}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanGraphEntity(row pgx.CollectableRow) (memory.Entity, error) {
	var (
		e         memory.Entity
		vec       *pgvector.Vector
		attrsJSON []byte
	)
	if err := row.Scan(&e.UUID, &e.Name, &e.Type, &vec, &e.Project, &attrsJSON, &e.CreatedAt); err != nil {
		return memory.Entity{}, err
	}
	if vec != nil {
		e.NameEmbedding = vec.Slice()
	}
	if err := jsonbToAttrs(attrsJSON, &e.Attributes); err != nil {
		return memory.Entity{}, err
	}
	return e, nil
}

func collectGraphEntities(rows pgx.Rows) ([]memory.Entity, error) {
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entity, error) {
		return scanGraphEntity(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan entities: %w", err)
	}
	if entities == nil {
		entities = []memory.Entity{}
	}
	return entities, nil
}

// collectEntitiesWithTrailingFloat scans rows that carry one extra trailing
// similarity column, discarding its value since FindSimilarEntities' ORDER BY
// already reflects rank.
func collectEntitiesWithTrailingFloat(rows pgx.Rows) ([]memory.Entity, error) {
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entity, error) {
		var (
			e         memory.Entity
			vec       *pgvector.Vector
			attrsJSON []byte
			sim       float64
		)
		if err := row.Scan(&e.UUID, &e.Name, &e.Type, &vec, &e.Project, &attrsJSON, &e.CreatedAt, &sim); err != nil {
			return memory.Entity{}, err
		}
		if vec != nil {
			e.NameEmbedding = vec.Slice()
		}
		if err := jsonbToAttrs(attrsJSON, &e.Attributes); err != nil {
			return memory.Entity{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entities: %w", err)
	}
	if entities == nil {
		entities = []memory.Entity{}
	}
	return entities, nil
}

func collectStatements(rows pgx.Rows) ([]memory.Statement, error) {
	statements, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Statement, error) {
		var (
			st  memory.Statement
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&st.UUID, &st.Fact, &vec, &st.Aspect, &st.Project, &st.EpisodeID,
			&st.ValidFrom, &st.InvalidatedAt, &st.InvalidatedBy,
		); err != nil {
			return memory.Statement{}, err
		}
		if vec != nil {
			st.FactEmbedding = vec.Slice()
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan statements: %w", err)
	}
	if statements == nil {
		statements = []memory.Statement{}
	}
	return statements, nil
}

func collectInt64s(rows pgx.Rows) ([]int64, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan int64s: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// attrsToJSONB marshals a string attribute map for insertion into a jsonb
// column.
func attrsToJSONB(attrs map[string]string) []byte {
	b, _ := json.Marshal(attrs)
	return b
}

// jsonbToAttrs unmarshals a jsonb column into a string attribute map,
// defaulting to an empty (non-nil) map.
func jsonbToAttrs(raw []byte, out *map[string]string) error {
	if len(raw) == 0 {
		*out = map[string]string{}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal entity attributes: %w", err)
	}
	if *out == nil {
		*out = map[string]string{}
	}
	return nil
}

func (g *Graph) fetchStatementsIn(ctx context.Context, ids []string) ([]memory.Statement, error) {
	if len(ids) == 0 {
		return []memory.Statement{}, nil
	}
	const q = `
		SELECT uuid, fact, fact_embedding, aspect, project, episode_id, valid_from, invalidated_at, invalidated_by
		FROM   statements
		WHERE  uuid = ANY($1::text[])`

	rows, err := g.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("graph: fetch statements in: %w", err)
	}
	return collectStatements(rows)
}
