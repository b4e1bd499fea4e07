package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	graphmock "github.com/jasondostal/cairn-mcp-sub001/pkg/memory/mock"
	embeddingsmock "github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings/mock"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm"
	llmmock "github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm/mock"
)

func TestExtract_ParsesValidResponse(t *testing.T) {
	t.Parallel()

	mockLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"entities":[{"name":"Alice","entity_type":"person","attributes":{}}],` +
				`"statements":[{"subject":"Alice","predicate":"prefers","object":"dark mode","fact":"Alice prefers dark mode","aspect":"Preference","event_date":null}],` +
				`"tags":["ui","preference"],"importance":0.7,"summary":"Alice's preference"}`,
		},
	}

	e := New(mockLLM, nil, nil, nil, nil)
	result, err := e.Extract(context.Background(), "Alice said she prefers dark mode", time.Now(), memory.AuthorUser)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(result.Entities) != 1 || result.Entities[0].Name != "Alice" {
		t.Errorf("Entities = %+v, want one entity named Alice", result.Entities)
	}
	if len(result.Statements) != 1 || result.Statements[0].Aspect != memory.AspectPreference {
		t.Errorf("Statements = %+v, want one Preference statement", result.Statements)
	}
	if result.Importance != 0.7 {
		t.Errorf("Importance = %v, want 0.7", result.Importance)
	}
}

func TestExtract_RetriesOnceOnParseFailure(t *testing.T) {
	t.Parallel()

	// llmmock.Provider returns the same fixed response on every call, so
	// both the initial attempt and the retry fail to parse; this exercises
	// the retry-once-then-minimal-result fallback path end to end.
	mockLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "not json"},
	}

	e := New(mockLLM, nil, nil, nil, nil)
	result, err := e.Extract(context.Background(), "garbled content", time.Now(), memory.AuthorUser)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Summary != "" || result.Importance != 0.5 {
		t.Errorf("result = %+v, want minimal fallback result", result)
	}
	if got := len(mockLLM.CompleteCalls); got != 2 {
		t.Errorf("CompleteCalls = %d, want 2 (initial + retry)", got)
	}
}

func TestExtract_LLMErrorFallsBackToMinimalResult(t *testing.T) {
	t.Parallel()

	mockLLM := &llmmock.Provider{CompleteErr: errors.New("provider unavailable")}

	e := New(mockLLM, nil, nil, nil, nil)
	result, err := e.Extract(context.Background(), "anything", time.Now(), memory.AuthorUser)
	if err != nil {
		t.Fatalf("Extract() error = %v, want nil (never blocks ingestion)", err)
	}
	if result.Importance != 0.5 || len(result.Entities) != 0 {
		t.Errorf("result = %+v, want minimal empty result", result)
	}
}

func TestExtract_InvalidEntityTypeTriggersRetry(t *testing.T) {
	t.Parallel()

	mockLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"entities":[{"name":"X","entity_type":"not_a_real_type"}],"statements":[],"tags":[],"importance":0.5,"summary":""}`,
		},
	}

	e := New(mockLLM, nil, nil, nil, nil)
	result, err := e.Extract(context.Background(), "anything", time.Now(), memory.AuthorUser)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	// Both the first attempt and the retry get the same invalid payload, so
	// this falls through to the minimal-result path.
	if len(result.Entities) != 0 {
		t.Errorf("Entities = %+v, want none (invalid type rejected both attempts)", result.Entities)
	}
}

func TestResolveAndPersist_CreatesNewEntityWhenNoSimilarFound(t *testing.T) {
	t.Parallel()

	graph := &graphmock.GraphProvider{
		CreateEntityResult:    "new-entity-uuid",
		CreateStatementResult: "stmt-uuid",
	}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2}}

	e := New(nil, embedder, graph, nil, nil)
	result := &Result{
		Entities: []Entity{{Name: "Bob", Type: memory.EntityPerson}},
	}

	summary, err := e.ResolveAndPersist(context.Background(), result, 1, "proj")
	if err != nil {
		t.Fatalf("ResolveAndPersist() error = %v", err)
	}
	if summary.EntitiesCreated != 1 || summary.EntitiesMerged != 0 {
		t.Errorf("summary = %+v, want 1 created, 0 merged", summary)
	}
	if graph.CallCount("CreateEntity") != 1 {
		t.Errorf("CreateEntity called %d times, want 1", graph.CallCount("CreateEntity"))
	}
}

func TestResolveAndPersist_MergesWithSimilarEntity(t *testing.T) {
	t.Parallel()

	graph := &graphmock.GraphProvider{
		FindSimilarEntitiesResult: []memory.Entity{{UUID: "existing-uuid", Name: "Bob", Type: memory.EntityPerson}},
	}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2}}

	e := New(nil, embedder, graph, nil, nil)
	result := &Result{
		Entities: []Entity{{Name: "Bob", Type: memory.EntityPerson}},
	}

	summary, err := e.ResolveAndPersist(context.Background(), result, 1, "proj")
	if err != nil {
		t.Fatalf("ResolveAndPersist() error = %v", err)
	}
	if summary.EntitiesMerged != 1 || summary.EntitiesCreated != 0 {
		t.Errorf("summary = %+v, want 1 merged, 0 created", summary)
	}
	if graph.CallCount("CreateEntity") != 0 {
		t.Error("CreateEntity should not be called when a similar entity is found")
	}
}

func TestResolveAndPersist_PersistsStatementAndTriple(t *testing.T) {
	t.Parallel()

	graph := &graphmock.GraphProvider{
		CreateEntityResult:    "subject-uuid",
		CreateStatementResult: "stmt-uuid",
	}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2}}

	e := New(nil, embedder, graph, nil, nil)
	result := &Result{
		Entities: []Entity{{Name: "Alice", Type: memory.EntityPerson}},
		Statements: []Statement{
			{Subject: "Alice", Predicate: "prefers", Object: "dark mode", Fact: "Alice prefers dark mode", Aspect: memory.AspectPreference},
		},
	}

	summary, err := e.ResolveAndPersist(context.Background(), result, 1, "proj")
	if err != nil {
		t.Fatalf("ResolveAndPersist() error = %v", err)
	}
	if summary.StatementsCreated != 1 {
		t.Errorf("StatementsCreated = %d, want 1", summary.StatementsCreated)
	}
	if graph.CallCount("CreateStatement") != 1 || graph.CallCount("CreateTriple") != 1 {
		t.Errorf("CreateStatement/CreateTriple calls = %d/%d, want 1/1",
			graph.CallCount("CreateStatement"), graph.CallCount("CreateTriple"))
	}
}

func TestResolveAndPersist_SkipsStatementWithUnresolvedSubject(t *testing.T) {
	t.Parallel()

	graph := &graphmock.GraphProvider{}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2}}

	e := New(nil, embedder, graph, nil, nil)
	result := &Result{
		Statements: []Statement{
			{Subject: "Unknown", Predicate: "prefers", Object: "x", Fact: "fact", Aspect: memory.AspectPreference},
		},
	}

	summary, err := e.ResolveAndPersist(context.Background(), result, 1, "proj")
	if err != nil {
		t.Fatalf("ResolveAndPersist() error = %v", err)
	}
	if summary.StatementsCreated != 0 {
		t.Errorf("StatementsCreated = %d, want 0 for an unresolved subject", summary.StatementsCreated)
	}
}

func TestResolveAndPersist_InvalidatesContradictions(t *testing.T) {
	t.Parallel()

	graph := &graphmock.GraphProvider{
		CreateEntityResult:       "subject-uuid",
		CreateStatementResult:    "stmt-uuid",
		FindContradictionsResult: []memory.Statement{{UUID: "old-stmt-uuid"}},
	}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2}}

	e := New(nil, embedder, graph, nil, nil)
	result := &Result{
		Entities:   []Entity{{Name: "Alice", Type: memory.EntityPerson}},
		Statements: []Statement{{Subject: "Alice", Predicate: "prefers", Object: "dark mode", Fact: "fact", Aspect: memory.AspectPreference}},
	}

	summary, err := e.ResolveAndPersist(context.Background(), result, 1, "proj")
	if err != nil {
		t.Fatalf("ResolveAndPersist() error = %v", err)
	}
	if summary.ContradictionsFound != 1 {
		t.Errorf("ContradictionsFound = %d, want 1", summary.ContradictionsFound)
	}
	if graph.CallCount("InvalidateStatement") != 1 {
		t.Errorf("InvalidateStatement called %d times, want 1", graph.CallCount("InvalidateStatement"))
	}
}
