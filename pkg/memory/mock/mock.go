// Package mock provides in-memory test doubles for the memory layer
// interfaces defined in pkg/memory.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.MemoryStore{}
//	store.RecallResult = []memory.Memory{{ID: 1, Content: "hello"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Recall"); got != 1 {
//	    t.Errorf("expected 1 Recall call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore mock
// ─────────────────────────────────────────────────────────────────────────────

// MemoryStore is a configurable test double for [memory.MemoryStore]. All
// exported *Err fields default to nil (success); all exported *Result fields
// default to nil (empty slice / zero value returned).
type MemoryStore struct {
	mu sync.Mutex

	calls []Call

	// ──── Store ────────────────────────────────────────────────────────────
	StoreResult memory.StoreResult
	StoreErr    error

	// ──── Recall ───────────────────────────────────────────────────────────
	RecallResult []memory.Memory
	RecallErr    error

	// ──── Modify ───────────────────────────────────────────────────────────
	ModifyErr error

	// ──── GetRules ─────────────────────────────────────────────────────────
	GetRulesResult []memory.Memory
	GetRulesErr    error

	// ──── ExportProject ────────────────────────────────────────────────────
	ExportProjectResult []memory.Memory
	ExportProjectErr    error

	// ──── VectorSearch ─────────────────────────────────────────────────────
	VectorSearchResult []memory.ScoredMemory
	VectorSearchErr    error

	// ──── KeywordSearch ────────────────────────────────────────────────────
	KeywordSearchResult []memory.ScoredMemory
	KeywordSearchErr    error

	// ──── TagSearch ────────────────────────────────────────────────────────
	TagSearchResult []memory.ScoredMemory
	TagSearchErr    error

	// ──── TemporalSearch ───────────────────────────────────────────────────
	TemporalSearchResult []memory.Memory
	TemporalSearchErr    error
}

// Calls returns a copy of all recorded method invocations.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *MemoryStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Store implements [memory.MemoryStore].
func (m *MemoryStore) Store(_ context.Context, params memory.StoreParams) (memory.StoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Store", Args: []any{params}})
	return m.StoreResult, m.StoreErr
}

// Recall implements [memory.MemoryStore].
func (m *MemoryStore) Recall(_ context.Context, ids []int64) ([]memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recall", Args: []any{ids}})
	if m.RecallResult == nil {
		return []memory.Memory{}, m.RecallErr
	}
	out := make([]memory.Memory, len(m.RecallResult))
	copy(out, m.RecallResult)
	return out, m.RecallErr
}

// Modify implements [memory.MemoryStore].
func (m *MemoryStore) Modify(_ context.Context, id int64, params memory.ModifyParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Modify", Args: []any{id, params}})
	return m.ModifyErr
}

// GetRules implements [memory.MemoryStore].
func (m *MemoryStore) GetRules(_ context.Context, project string) ([]memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetRules", Args: []any{project}})
	if m.GetRulesResult == nil {
		return []memory.Memory{}, m.GetRulesErr
	}
	out := make([]memory.Memory, len(m.GetRulesResult))
	copy(out, m.GetRulesResult)
	return out, m.GetRulesErr
}

// ExportProject implements [memory.MemoryStore].
func (m *MemoryStore) ExportProject(_ context.Context, project string) ([]memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ExportProject", Args: []any{project}})
	if m.ExportProjectResult == nil {
		return []memory.Memory{}, m.ExportProjectErr
	}
	out := make([]memory.Memory, len(m.ExportProjectResult))
	copy(out, m.ExportProjectResult)
	return out, m.ExportProjectErr
}

// VectorSearch implements [memory.MemoryStore].
func (m *MemoryStore) VectorSearch(_ context.Context, embedding []float32, project, memType []string, topK int) ([]memory.ScoredMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "VectorSearch", Args: []any{embedding, project, memType, topK}})
	if m.VectorSearchResult == nil {
		return []memory.ScoredMemory{}, m.VectorSearchErr
	}
	out := make([]memory.ScoredMemory, len(m.VectorSearchResult))
	copy(out, m.VectorSearchResult)
	return out, m.VectorSearchErr
}

// KeywordSearch implements [memory.MemoryStore].
func (m *MemoryStore) KeywordSearch(_ context.Context, query string, project, memType []string, topK int) ([]memory.ScoredMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "KeywordSearch", Args: []any{query, project, memType, topK}})
	if m.KeywordSearchResult == nil {
		return []memory.ScoredMemory{}, m.KeywordSearchErr
	}
	out := make([]memory.ScoredMemory, len(m.KeywordSearchResult))
	copy(out, m.KeywordSearchResult)
	return out, m.KeywordSearchErr
}

// TagSearch implements [memory.MemoryStore].
func (m *MemoryStore) TagSearch(_ context.Context, tokens []string, project, memType []string, topK int) ([]memory.ScoredMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "TagSearch", Args: []any{tokens, project, memType, topK}})
	if m.TagSearchResult == nil {
		return []memory.ScoredMemory{}, m.TagSearchErr
	}
	out := make([]memory.ScoredMemory, len(m.TagSearchResult))
	copy(out, m.TagSearchResult)
	return out, m.TagSearchErr
}

// TemporalSearch implements [memory.MemoryStore].
func (m *MemoryStore) TemporalSearch(_ context.Context, project []string, after, before time.Time, limit int) ([]memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "TemporalSearch", Args: []any{project, after, before, limit}})
	if m.TemporalSearchResult == nil {
		return []memory.Memory{}, m.TemporalSearchErr
	}
	out := make([]memory.Memory, len(m.TemporalSearchResult))
	copy(out, m.TemporalSearchResult)
	return out, m.TemporalSearchErr
}

// Ensure MemoryStore satisfies the interface at compile time.
var _ memory.MemoryStore = (*MemoryStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// GraphProvider mock
// ─────────────────────────────────────────────────────────────────────────────

// GraphProvider is a configurable test double for [memory.GraphProvider].
type GraphProvider struct {
	mu sync.Mutex

	calls []Call

	// ──── CreateEntity ─────────────────────────────────────────────────────
	CreateEntityResult string
	CreateEntityErr    error

	// ──── FindSimilarEntities ──────────────────────────────────────────────
	FindSimilarEntitiesResult []memory.Entity
	FindSimilarEntitiesErr    error

	// ──── SearchEntitiesByEmbedding ────────────────────────────────────────
	SearchEntitiesByEmbeddingResult []memory.Entity
	SearchEntitiesByEmbeddingErr    error

	// ──── CreateStatement ──────────────────────────────────────────────────
	CreateStatementResult string
	CreateStatementErr    error

	// ──── CreateTriple ─────────────────────────────────────────────────────
	CreateTripleErr error

	// ──── FindContradictions ───────────────────────────────────────────────
	FindContradictionsResult []memory.Statement
	FindContradictionsErr    error

	// ──── InvalidateStatement ──────────────────────────────────────────────
	InvalidateStatementErr error

	// ──── FindEntityEpisodes ───────────────────────────────────────────────
	FindEntityEpisodesResult []int64
	FindEntityEpisodesErr    error

	// ──── FindEntityStatements ─────────────────────────────────────────────
	FindEntityStatementsResult []memory.Statement
	FindEntityStatementsErr    error

	// ──── FindConnectingStatements ─────────────────────────────────────────
	FindConnectingStatementsResult []memory.Statement
	FindConnectingStatementsErr    error

	// ──── BFSTraverse ──────────────────────────────────────────────────────
	BFSTraverseResult []memory.Statement
	BFSTraverseErr    error

	// ──── SearchStatementsByAspect ─────────────────────────────────────────
	SearchStatementsByAspectResult []int64
	SearchStatementsByAspectErr    error

	// ──── Visualization ────────────────────────────────────────────────────
	VisualizationResult memory.GraphSnapshot
	VisualizationErr    error
}

// Calls returns a copy of all recorded method invocations.
func (m *GraphProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *GraphProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *GraphProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// CreateEntity implements [memory.GraphProvider].
func (m *GraphProvider) CreateEntity(_ context.Context, name string, typ memory.EntityType, embedding []float32, project string, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CreateEntity", Args: []any{name, typ, embedding, project, attrs}})
	return m.CreateEntityResult, m.CreateEntityErr
}

// FindSimilarEntities implements [memory.GraphProvider].
func (m *GraphProvider) FindSimilarEntities(_ context.Context, embedding []float32, typ memory.EntityType, project string) ([]memory.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindSimilarEntities", Args: []any{embedding, typ, project}})
	if m.FindSimilarEntitiesResult == nil {
		return []memory.Entity{}, m.FindSimilarEntitiesErr
	}
	out := make([]memory.Entity, len(m.FindSimilarEntitiesResult))
	copy(out, m.FindSimilarEntitiesResult)
	return out, m.FindSimilarEntitiesErr
}

// SearchEntitiesByEmbedding implements [memory.GraphProvider].
func (m *GraphProvider) SearchEntitiesByEmbedding(_ context.Context, embedding []float32, project string, limit int) ([]memory.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SearchEntitiesByEmbedding", Args: []any{embedding, project, limit}})
	if m.SearchEntitiesByEmbeddingResult == nil {
		return []memory.Entity{}, m.SearchEntitiesByEmbeddingErr
	}
	out := make([]memory.Entity, len(m.SearchEntitiesByEmbeddingResult))
	copy(out, m.SearchEntitiesByEmbeddingResult)
	return out, m.SearchEntitiesByEmbeddingErr
}

// CreateStatement implements [memory.GraphProvider].
func (m *GraphProvider) CreateStatement(_ context.Context, fact string, embedding []float32, aspect memory.Aspect, episodeID int64, project string, validAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CreateStatement", Args: []any{fact, embedding, aspect, episodeID, project, validAt}})
	return m.CreateStatementResult, m.CreateStatementErr
}

// CreateTriple implements [memory.GraphProvider].
func (m *GraphProvider) CreateTriple(_ context.Context, statementID, subjectID, predicate, objectID, objectLiteral string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CreateTriple", Args: []any{statementID, subjectID, predicate, objectID, objectLiteral}})
	return m.CreateTripleErr
}

// FindContradictions implements [memory.GraphProvider].
func (m *GraphProvider) FindContradictions(_ context.Context, subjectID, predicate, project string) ([]memory.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindContradictions", Args: []any{subjectID, predicate, project}})
	if m.FindContradictionsResult == nil {
		return []memory.Statement{}, m.FindContradictionsErr
	}
	out := make([]memory.Statement, len(m.FindContradictionsResult))
	copy(out, m.FindContradictionsResult)
	return out, m.FindContradictionsErr
}

// InvalidateStatement implements [memory.GraphProvider].
func (m *GraphProvider) InvalidateStatement(_ context.Context, uuid, invalidatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "InvalidateStatement", Args: []any{uuid, invalidatedBy}})
	return m.InvalidateStatementErr
}

// FindEntityEpisodes implements [memory.GraphProvider].
func (m *GraphProvider) FindEntityEpisodes(_ context.Context, entityUUID string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindEntityEpisodes", Args: []any{entityUUID}})
	if m.FindEntityEpisodesResult == nil {
		return []int64{}, m.FindEntityEpisodesErr
	}
	out := make([]int64, len(m.FindEntityEpisodesResult))
	copy(out, m.FindEntityEpisodesResult)
	return out, m.FindEntityEpisodesErr
}

// FindEntityStatements implements [memory.GraphProvider].
func (m *GraphProvider) FindEntityStatements(_ context.Context, entityUUID string, aspects []memory.Aspect) ([]memory.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindEntityStatements", Args: []any{entityUUID, aspects}})
	if m.FindEntityStatementsResult == nil {
		return []memory.Statement{}, m.FindEntityStatementsErr
	}
	out := make([]memory.Statement, len(m.FindEntityStatementsResult))
	copy(out, m.FindEntityStatementsResult)
	return out, m.FindEntityStatementsErr
}

// FindConnectingStatements implements [memory.GraphProvider].
func (m *GraphProvider) FindConnectingStatements(_ context.Context, uuidA, uuidB string, maxDepth int) ([]memory.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindConnectingStatements", Args: []any{uuidA, uuidB, maxDepth}})
	if m.FindConnectingStatementsResult == nil {
		return []memory.Statement{}, m.FindConnectingStatementsErr
	}
	out := make([]memory.Statement, len(m.FindConnectingStatementsResult))
	copy(out, m.FindConnectingStatementsResult)
	return out, m.FindConnectingStatementsErr
}

// BFSTraverse implements [memory.GraphProvider].
func (m *GraphProvider) BFSTraverse(_ context.Context, startUUID string, maxDepth int) ([]memory.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "BFSTraverse", Args: []any{startUUID, maxDepth}})
	if m.BFSTraverseResult == nil {
		return []memory.Statement{}, m.BFSTraverseErr
	}
	out := make([]memory.Statement, len(m.BFSTraverseResult))
	copy(out, m.BFSTraverseResult)
	return out, m.BFSTraverseErr
}

// SearchStatementsByAspect implements [memory.GraphProvider].
func (m *GraphProvider) SearchStatementsByAspect(_ context.Context, aspects []memory.Aspect, project string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SearchStatementsByAspect", Args: []any{aspects, project}})
	if m.SearchStatementsByAspectResult == nil {
		return []int64{}, m.SearchStatementsByAspectErr
	}
	out := make([]int64, len(m.SearchStatementsByAspectResult))
	copy(out, m.SearchStatementsByAspectResult)
	return out, m.SearchStatementsByAspectErr
}

// Visualization implements [memory.GraphProvider].
func (m *GraphProvider) Visualization(_ context.Context, project string, entityTypes []memory.EntityType, limit int) (memory.GraphSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Visualization", Args: []any{project, entityTypes, limit}})
	return m.VisualizationResult, m.VisualizationErr
}

// Ensure GraphProvider satisfies the interface at compile time.
var _ memory.GraphProvider = (*GraphProvider)(nil)
