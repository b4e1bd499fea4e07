package search

import (
	"context"
	"errors"
	"testing"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	memorymock "github.com/jasondostal/cairn-mcp-sub001/pkg/memory/mock"
	embeddingsmock "github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings/mock"
)

func TestSearch_SemanticModeRunsAllThreeSignals(t *testing.T) {
	t.Parallel()

	store := &memorymock.MemoryStore{
		VectorSearchResult:  []memory.ScoredMemory{{Memory: memory.Memory{ID: 1}, Rank: 1}},
		KeywordSearchResult: []memory.ScoredMemory{{Memory: memory.Memory{ID: 1}, Rank: 2}},
		TagSearchResult:     []memory.ScoredMemory{{Memory: memory.Memory{ID: 2}, Rank: 1}},
	}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1}}

	e := New(store, embedder)
	candidates, err := e.Search(context.Background(), Params{Query: "test", Mode: ModeSemantic, TopK: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if store.CallCount("VectorSearch") != 1 || store.CallCount("KeywordSearch") != 1 || store.CallCount("TagSearch") != 1 {
		t.Fatal("expected all three signals to run in semantic mode")
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
	// Memory 1 appears in both vector and keyword signals, so it must rank
	// above memory 2, which only appears in tag.
	if candidates[0].Memory.ID != 1 {
		t.Errorf("candidates[0].Memory.ID = %d, want 1 (highest combined RRF score)", candidates[0].Memory.ID)
	}
}

func TestSearch_KeywordModeBypassesEmbeddings(t *testing.T) {
	t.Parallel()

	store := &memorymock.MemoryStore{
		KeywordSearchResult: []memory.ScoredMemory{{Memory: memory.Memory{ID: 1}, Rank: 1}},
	}
	embedder := &embeddingsmock.Provider{}

	e := New(store, embedder)
	_, err := e.Search(context.Background(), Params{Query: "test", Mode: ModeKeyword, TopK: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if store.CallCount("VectorSearch") != 0 {
		t.Error("VectorSearch should not run in keyword mode")
	}
	if len(embedder.EmbedCalls) != 0 {
		t.Error("Embed should not be called in keyword mode")
	}
}

func TestSearch_TagModeOnlyRunsTagSignal(t *testing.T) {
	t.Parallel()

	store := &memorymock.MemoryStore{
		TagSearchResult: []memory.ScoredMemory{{Memory: memory.Memory{ID: 1}, Rank: 1}},
	}
	embedder := &embeddingsmock.Provider{}

	e := New(store, embedder)
	candidates, err := e.Search(context.Background(), Params{Query: "tag1 tag2", Mode: ModeTag, TopK: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if store.CallCount("VectorSearch") != 0 || store.CallCount("KeywordSearch") != 0 {
		t.Error("only TagSearch should run in tag mode")
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
}

func TestSearch_PropagatesSignalError(t *testing.T) {
	t.Parallel()

	store := &memorymock.MemoryStore{VectorSearchErr: errors.New("vector backend down")}
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1}}

	e := New(store, embedder)
	_, err := e.Search(context.Background(), Params{Query: "test", Mode: ModeSemantic, TopK: 10})
	if err == nil {
		t.Fatal("expected an error when a signal fails")
	}
}

func TestSearch_TopKTruncates(t *testing.T) {
	t.Parallel()

	store := &memorymock.MemoryStore{
		TagSearchResult: []memory.ScoredMemory{
			{Memory: memory.Memory{ID: 1}, Rank: 1},
			{Memory: memory.Memory{ID: 2}, Rank: 2},
			{Memory: memory.Memory{ID: 3}, Rank: 3},
		},
	}
	embedder := &embeddingsmock.Provider{}

	e := New(store, embedder)
	candidates, err := e.Search(context.Background(), Params{Query: "x", Mode: ModeTag, TopK: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2 (topK truncation)", len(candidates))
	}
}

func TestFuse_TiesBrokenByAscendingMemoryID(t *testing.T) {
	t.Parallel()

	signals := map[string][]memory.ScoredMemory{
		"tag": {
			{Memory: memory.Memory{ID: 5}, Rank: 1},
			{Memory: memory.Memory{ID: 3}, Rank: 1},
		},
	}

	out := fuse(signals, 0, Config{})
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Memory.ID != 3 || out[1].Memory.ID != 5 {
		t.Errorf("order = [%d %d], want [3 5] (equal score, ascending ID)", out[0].Memory.ID, out[1].Memory.ID)
	}
}

func TestFuse_NoTopKReturnsAll(t *testing.T) {
	t.Parallel()

	signals := map[string][]memory.ScoredMemory{
		"tag": {{Memory: memory.Memory{ID: 1}, Rank: 1}, {Memory: memory.Memory{ID: 2}, Rank: 2}},
	}

	out := fuse(signals, 0, Config{})
	if len(out) != 2 {
		t.Errorf("len(out) = %d, want 2 when topK is 0", len(out))
	}
}

func TestTokenize_LowercasesAndSplits(t *testing.T) {
	t.Parallel()

	got := tokenize("Hello World  Foo")
	want := []string{"hello", "world", "foo"}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
