package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore
// ─────────────────────────────────────────────────────────────────────────────

// Store implements [memory.MemoryStore]. It creates the owning project row
// (if absent), inserts the memory, and publishes a memory.created event after
// the insert commits.
func (s *Store) Store(ctx context.Context, params memory.StoreParams) (memory.StoreResult, error) {
	if params.Type == "" {
		params.Type = memory.MemoryNote
	}
	if params.Importance == 0 {
		params.Importance = 0.5
	}
	if params.Author == "" {
		params.Author = memory.AuthorUser
	}

	const qProject = `
		INSERT INTO projects (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING`

	const qInsert = `
		INSERT INTO memories
		    (project, content, memory_type, importance, tags, session_id, author, related_files, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	var vec any
	if len(params.Embedding) > 0 {
		vec = pgvector.NewVector(params.Embedding)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memory.StoreResult{}, fmt.Errorf("memory store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, qProject, params.Project); err != nil {
		return memory.StoreResult{}, fmt.Errorf("memory store: ensure project: %w", err)
	}

	var res memory.StoreResult
	row := tx.QueryRow(ctx, qInsert,
		params.Project,
		params.Content,
		params.Type,
		params.Importance,
		params.Tags,
		params.SessionID,
		params.Author,
		params.RelatedFiles,
		vec,
	)
	if err := row.Scan(&res.ID, &res.CreatedAt); err != nil {
		return memory.StoreResult{}, fmt.Errorf("memory store: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return memory.StoreResult{}, fmt.Errorf("memory store: commit: %w", err)
	}

	s.publisher.Publish(ctx, memory.Event{
		Topic:    memory.TopicMemoryCreated,
		MemoryID: res.ID,
		Project:  params.Project,
		Type:     params.Type,
		Enrich:   true,
	})

	return res, nil
}

const memoryColumns = `id, project, content, summary, memory_type, importance, tags, auto_tags,
	       related_files, session_id, author, created_at, updated_at, active, inactive_reason, embedding`

// Recall implements [memory.MemoryStore].
func (s *Store) Recall(ctx context.Context, ids []int64) ([]memory.Memory, error) {
	if len(ids) == 0 {
		return []memory.Memory{}, nil
	}
	q := "SELECT " + memoryColumns + "\nFROM   memories\nWHERE  id = ANY($1::bigint[])"

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("memory store: recall: %w", err)
	}
	return collectMemories(rows)
}

// Modify implements [memory.MemoryStore].
func (s *Store) Modify(ctx context.Context, id int64, params memory.ModifyParams) error {
	var (
		setClauses []string
		args       []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch params.Action {
	case memory.ActionUpdate:
		if params.Content != nil {
			setClauses = append(setClauses, "content = "+next(*params.Content))
		}
		if params.Summary != nil {
			setClauses = append(setClauses, "summary = "+next(*params.Summary))
		}
		if params.Importance != nil {
			setClauses = append(setClauses, "importance = "+next(*params.Importance))
		}
		if params.Tags != nil {
			setClauses = append(setClauses, "tags = "+next(params.Tags)+"::text[]")
		}
		setClauses = append(setClauses, "updated_at = now()")
	case memory.ActionInactivate:
		setClauses = append(setClauses,
			"active = false",
			"inactive_reason = "+next(params.Reason),
			"updated_at = now()",
		)
	default:
		return fmt.Errorf("memory store: modify: unknown action %q", params.Action)
	}

	idArg := next(id)
	q := "UPDATE memories SET " + strings.Join(setClauses, ", ") + " WHERE id = " + idArg

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("memory store: modify: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory store: modify: memory %d not found", id)
	}

	topic := memory.TopicMemoryUpdated
	if params.Action == memory.ActionInactivate {
		topic = memory.TopicMemoryInactivated
	}
	s.publisher.Publish(ctx, memory.Event{Topic: topic, MemoryID: id})

	return nil
}

// GetRules implements [memory.MemoryStore]. Rules owned by project and by
// [memory.GlobalProject] are both visible.
func (s *Store) GetRules(ctx context.Context, project string) ([]memory.Memory, error) {
	q := "SELECT " + memoryColumns + `
		FROM   memories
		WHERE  memory_type = 'rule'
		  AND  active = true
		  AND  project = ANY($1::text[])
		ORDER  BY importance DESC, created_at DESC`

	rows, err := s.pool.Query(ctx, q, []string{project, memory.GlobalProject})
	if err != nil {
		return nil, fmt.Errorf("memory store: get rules: %w", err)
	}
	return collectMemories(rows)
}

// ExportProject implements [memory.MemoryStore].
func (s *Store) ExportProject(ctx context.Context, project string) ([]memory.Memory, error) {
	q := "SELECT " + memoryColumns + `
		FROM   memories
		WHERE  project = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, project)
	if err != nil {
		return nil, fmt.Errorf("memory store: export project: %w", err)
	}
	return collectMemories(rows)
}

// VectorSearch implements [memory.MemoryStore].
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, project, memType []string, topK int) ([]memory.ScoredMemory, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"active = true", "embedding IS NOT NULL"}
	if len(project) > 0 {
		conditions = append(conditions, "project = ANY("+next(project)+"::text[])")
	}
	if len(memType) > 0 {
		conditions = append(conditions, "memory_type = ANY("+next(memType)+"::text[])")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := "SELECT " + memoryColumns + fmt.Sprintf(`
		FROM   memories
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: vector search: %w", err)
	}
	return collectScoredMemories(rows)
}

// KeywordSearch implements [memory.MemoryStore].
func (s *Store) KeywordSearch(ctx context.Context, query string, project, memType []string, topK int) ([]memory.ScoredMemory, error) {
	args := []any{query} // $1
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"active = true",
		"to_tsvector('english', content || ' ' || summary) @@ plainto_tsquery('english', $1)",
	}
	if len(project) > 0 {
		conditions = append(conditions, "project = ANY("+next(project)+"::text[])")
	}
	if len(memType) > 0 {
		conditions = append(conditions, "memory_type = ANY("+next(memType)+"::text[])")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := "SELECT " + memoryColumns + fmt.Sprintf(`,
	       ts_rank(to_tsvector('english', content || ' ' || summary), plainto_tsquery('english', $1)) AS rank
		FROM   memories
		WHERE  %s
		ORDER  BY rank DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: keyword search: %w", err)
	}
	return collectScoredMemoriesWithTrailingRank(rows)
}

// TagSearch implements [memory.MemoryStore]. Relevance is the count of tokens
// that exactly match a user tag; ties are broken by importance descending.
func (s *Store) TagSearch(ctx context.Context, tokens []string, project, memType []string, topK int) ([]memory.ScoredMemory, error) {
	args := []any{tokens} // $1 = candidate token array
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"active = true", "tags && $1::text[]"}
	if len(project) > 0 {
		conditions = append(conditions, "project = ANY("+next(project)+"::text[])")
	}
	if len(memType) > 0 {
		conditions = append(conditions, "memory_type = ANY("+next(memType)+"::text[])")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := "SELECT " + memoryColumns + fmt.Sprintf(`,
	       cardinality(ARRAY(SELECT unnest(tags) INTERSECT SELECT unnest($1::text[]))) AS match_count
		FROM   memories
		WHERE  %s
		ORDER  BY match_count DESC, importance DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: tag search: %w", err)
	}
	return collectScoredMemoriesWithTrailingRank(rows)
}

// TemporalSearch implements [memory.MemoryStore].
func (s *Store) TemporalSearch(ctx context.Context, project []string, after, before time.Time, limit int) ([]memory.Memory, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"active = true"}
	if len(project) > 0 {
		conditions = append(conditions, "project = ANY("+next(project)+"::text[])")
	}
	if !after.IsZero() {
		conditions = append(conditions, "created_at >= "+next(after))
	}
	if !before.IsZero() {
		conditions = append(conditions, "created_at <= "+next(before))
	}

	q := "SELECT " + memoryColumns + "\nFROM   memories\nWHERE  " +
		strings.Join(conditions, "\n  AND  ") + "\nORDER  BY created_at DESC"

	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: temporal search: %w", err)
	}
	return collectMemories(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanMemory(row pgx.CollectableRow) (memory.Memory, error) {
	var (
		m   memory.Memory
		vec *pgvector.Vector
	)
	if err := row.Scan(
		&m.ID, &m.Project, &m.Content, &m.Summary, &m.Type, &m.Importance,
		&m.Tags, &m.AutoTags, &m.RelatedFiles, &m.SessionID, &m.Author,
		&m.CreatedAt, &m.UpdatedAt, &m.Active, &m.InactiveReason, &vec,
	); err != nil {
		return memory.Memory{}, err
	}
	if vec != nil {
		m.Embedding = vec.Slice()
	}
	return m, nil
}

func collectMemories(rows pgx.Rows) ([]memory.Memory, error) {
	memories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Memory, error) {
		return scanMemory(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan memories: %w", err)
	}
	if memories == nil {
		memories = []memory.Memory{}
	}
	return memories, nil
}

// collectScoredMemories scans rows with no trailing rank column, assigning
// rank from result order (used by VectorSearch, whose ORDER BY already
// reflects rank).
func collectScoredMemories(rows pgx.Rows) ([]memory.ScoredMemory, error) {
	i := 0
	scored, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ScoredMemory, error) {
		m, err := scanMemory(row)
		if err != nil {
			return memory.ScoredMemory{}, err
		}
		i++
		return memory.ScoredMemory{Memory: m, Rank: i}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scored memories: %w", err)
	}
	if scored == nil {
		scored = []memory.ScoredMemory{}
	}
	return scored, nil
}

// collectScoredMemoriesWithTrailingRank scans rows that carry one extra
// trailing numeric column (ts_rank or match_count) after the memory columns,
// discarding its value since rank is derived from result order.
func collectScoredMemoriesWithTrailingRank(rows pgx.Rows) ([]memory.ScoredMemory, error) {
	i := 0
	scored, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ScoredMemory, error) {
		var (
			m         memory.Memory
			vec       *pgvector.Vector
			trailing  float64
		)
		if err := row.Scan(
			&m.ID, &m.Project, &m.Content, &m.Summary, &m.Type, &m.Importance,
			&m.Tags, &m.AutoTags, &m.RelatedFiles, &m.SessionID, &m.Author,
			&m.CreatedAt, &m.UpdatedAt, &m.Active, &m.InactiveReason, &vec,
			&trailing,
		); err != nil {
			return memory.ScoredMemory{}, err
		}
		if vec != nil {
			m.Embedding = vec.Slice()
		}
		i++
		return memory.ScoredMemory{Memory: m, Rank: i}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scored memories: %w", err)
	}
	if scored == nil {
		scored = []memory.ScoredMemory{}
	}
	return scored, nil
}
