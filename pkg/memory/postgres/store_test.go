package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if CAIRN_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CAIRN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CAIRN_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store]/[postgres.Graph] pair with a
// clean schema. It calls t.Cleanup to close the pool when the test finishes.
func newTestStore(t *testing.T) (*postgres.Store, *postgres.Graph) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, graph, err := postgres.NewStore(ctx, dsn, testEmbeddingDim, memory.NopPublisher{}, postgres.DefaultEntityMergeThreshold)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store, graph
}

// mustPool opens a pgxpool with pgvector types registered (needed so the
// HNSW index creation in a subsequent Migrate doesn't choke on an
// unregistered connection).
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS triples CASCADE",
		"DROP TABLE IF EXISTS statements CASCADE",
		"DROP TABLE IF EXISTS entities CASCADE",
		"DROP TABLE IF EXISTS memory_relations CASCADE",
		"DROP TABLE IF EXISTS memories CASCADE",
		"DROP TABLE IF EXISTS projects CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore — Store / Recall / Modify
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_StoreAndRecall(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	res, err := store.Store(ctx, memory.StoreParams{
		Content:   "Decided to use pgvector for similarity search.",
		Project:   "proj-a",
		Type:      memory.MemoryDecision,
		Tags:      []string{"storage"},
		Embedding: []float32{1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if res.ID == 0 {
		t.Fatal("Store: expected non-zero ID")
	}

	got, err := store.Recall(ctx, []int64{res.ID})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recall: want 1, got %d", len(got))
	}
	if got[0].Project != "proj-a" || got[0].Type != memory.MemoryDecision {
		t.Errorf("Recall: unexpected row %+v", got[0])
	}
	if !got[0].Active {
		t.Error("Recall: new memory should be active")
	}
	if got[0].Importance != 0.5 {
		t.Errorf("Recall: default importance want 0.5, got %v", got[0].Importance)
	}

	// Recall for a nonexistent ID is silently omitted, not an error.
	none, err := store.Recall(ctx, []int64{999999})
	if err != nil {
		t.Fatalf("Recall missing: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Recall missing: want 0, got %d", len(none))
	}
}

func TestStore_ModifyUpdateAndInactivate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	res, err := store.Store(ctx, memory.StoreParams{Content: "original", Project: "proj-b"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	newContent := "revised content"
	if err := store.Modify(ctx, res.ID, memory.ModifyParams{
		Action:  memory.ActionUpdate,
		Content: &newContent,
	}); err != nil {
		t.Fatalf("Modify update: %v", err)
	}

	got, _ := store.Recall(ctx, []int64{res.ID})
	if got[0].Content != newContent {
		t.Errorf("Modify update: want %q, got %q", newContent, got[0].Content)
	}

	if err := store.Modify(ctx, res.ID, memory.ModifyParams{
		Action: memory.ActionInactivate,
		Reason: "superseded",
	}); err != nil {
		t.Fatalf("Modify inactivate: %v", err)
	}

	got, _ = store.Recall(ctx, []int64{res.ID})
	if got[0].Active {
		t.Error("Modify inactivate: expected Active=false")
	}
	if got[0].InactiveReason != "superseded" {
		t.Errorf("InactiveReason: want superseded, got %q", got[0].InactiveReason)
	}

	// Modifying a nonexistent memory is an error.
	if err := store.Modify(ctx, 999999, memory.ModifyParams{Action: memory.ActionInactivate}); err == nil {
		t.Error("Modify missing: expected error, got nil")
	}
}

func TestStore_GetRulesVisibility(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustStore(t, ctx, store, memory.StoreParams{Content: "Always write tests.", Project: "proj-c", Type: memory.MemoryRule})
	mustStore(t, ctx, store, memory.StoreParams{Content: "Global rule.", Project: memory.GlobalProject, Type: memory.MemoryRule})
	mustStore(t, ctx, store, memory.StoreParams{Content: "Unrelated note.", Project: "proj-c", Type: memory.MemoryNote})
	mustStore(t, ctx, store, memory.StoreParams{Content: "Other project's rule.", Project: "proj-d", Type: memory.MemoryRule})

	rules, err := store.GetRules(ctx, "proj-c")
	if err != nil {
		t.Fatalf("GetRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("GetRules: want 2 (own + global), got %d", len(rules))
	}
}

func TestStore_ExportProject(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustStore(t, ctx, store, memory.StoreParams{Content: "a", Project: "proj-e"})
	res := mustStore(t, ctx, store, memory.StoreParams{Content: "b", Project: "proj-e"})
	mustStore(t, ctx, store, memory.StoreParams{Content: "c", Project: "proj-other"})

	if err := store.Modify(ctx, res.ID, memory.ModifyParams{Action: memory.ActionInactivate, Reason: "test"}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	exported, err := store.ExportProject(ctx, "proj-e")
	if err != nil {
		t.Fatalf("ExportProject: %v", err)
	}
	if len(exported) != 2 {
		t.Errorf("ExportProject: want 2 (active + inactive), got %d", len(exported))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore — search signals
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_VectorSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustStore(t, ctx, store, memory.StoreParams{Content: "closest", Project: "proj-v", Embedding: []float32{1, 0, 0, 0}})
	mustStore(t, ctx, store, memory.StoreParams{Content: "far", Project: "proj-v", Embedding: []float32{0, 1, 0, 0}})

	results, err := store.VectorSearch(ctx, []float32{1, 0, 0, 0}, []string{"proj-v"}, nil, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("VectorSearch: want 2, got %d", len(results))
	}
	if results[0].Memory.Content != "closest" || results[0].Rank != 1 {
		t.Errorf("VectorSearch: want closest first at rank 1, got %+v", results[0])
	}
}

func TestStore_KeywordSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustStore(t, ctx, store, memory.StoreParams{Content: "The dragon hoards treasure in the mountain.", Project: "proj-k"})
	mustStore(t, ctx, store, memory.StoreParams{Content: "We should negotiate with the goblin tribe.", Project: "proj-k"})

	results, err := store.KeywordSearch(ctx, "dragon treasure", []string{"proj-k"}, nil, 10)
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("KeywordSearch: want 1, got %d", len(results))
	}
}

func TestStore_TagSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustStore(t, ctx, store, memory.StoreParams{Content: "a", Project: "proj-t", Tags: []string{"auth", "security"}, Importance: 0.9})
	mustStore(t, ctx, store, memory.StoreParams{Content: "b", Project: "proj-t", Tags: []string{"auth"}, Importance: 0.2})
	mustStore(t, ctx, store, memory.StoreParams{Content: "c", Project: "proj-t", Tags: []string{"unrelated"}})

	results, err := store.TagSearch(ctx, []string{"auth", "security"}, []string{"proj-t"}, nil, 10)
	if err != nil {
		t.Fatalf("TagSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("TagSearch: want 2, got %d", len(results))
	}
	if results[0].Memory.Content != "a" {
		t.Errorf("TagSearch: want higher match-count result first, got %+v", results[0])
	}
}

func TestStore_TemporalSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustStore(t, ctx, store, memory.StoreParams{Content: "a", Project: "proj-time"})
	mustStore(t, ctx, store, memory.StoreParams{Content: "b", Project: "proj-time"})

	results, err := store.TemporalSearch(ctx, []string{"proj-time"}, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("TemporalSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("TemporalSearch: want 2, got %d", len(results))
	}
	// Most recent first.
	if results[0].Content != "b" {
		t.Errorf("TemporalSearch: want most recent first, got %+v", results[0])
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GraphProvider — entities, statements, triples
// ─────────────────────────────────────────────────────────────────────────────

func TestGraph_CreateAndFindSimilarEntities(t *testing.T) {
	store, graph := newTestStore(t)
	ctx := context.Background()
	mustProject(t, ctx, store, "proj-g")

	id1, err := graph.CreateEntity(ctx, "Alice", memory.EntityPerson, []float32{1, 0, 0, 0}, "proj-g", nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if _, err := graph.CreateEntity(ctx, "Alicia", memory.EntityPerson, []float32{0.99, 0.01, 0, 0}, "proj-g", nil); err != nil {
		t.Fatalf("CreateEntity similar: %v", err)
	}
	if _, err := graph.CreateEntity(ctx, "Bob", memory.EntityPerson, []float32{0, 1, 0, 0}, "proj-g", nil); err != nil {
		t.Fatalf("CreateEntity distinct: %v", err)
	}

	similar, err := graph.FindSimilarEntities(ctx, []float32{1, 0, 0, 0}, memory.EntityPerson, "proj-g")
	if err != nil {
		t.Fatalf("FindSimilarEntities: %v", err)
	}
	if len(similar) < 2 {
		t.Fatalf("FindSimilarEntities: want at least 2 (Alice + Alicia), got %d", len(similar))
	}
	foundSelf := false
	for _, e := range similar {
		if e.UUID == id1 {
			foundSelf = true
		}
	}
	if !foundSelf {
		t.Error("FindSimilarEntities: expected the query entity itself among near-duplicates")
	}
}

func TestGraph_SearchEntitiesByEmbedding(t *testing.T) {
	store, graph := newTestStore(t)
	ctx := context.Background()
	mustProject(t, ctx, store, "proj-h")

	if _, err := graph.CreateEntity(ctx, "Closest", memory.EntityConcept, []float32{1, 0, 0, 0}, "proj-h", nil); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if _, err := graph.CreateEntity(ctx, "Farther", memory.EntityConcept, []float32{0, 1, 0, 0}, "proj-h", nil); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	results, err := graph.SearchEntitiesByEmbedding(ctx, []float32{1, 0, 0, 0}, "proj-h", 10)
	if err != nil {
		t.Fatalf("SearchEntitiesByEmbedding: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchEntitiesByEmbedding: want 2, got %d", len(results))
	}
	if results[0].Name != "Closest" {
		t.Errorf("SearchEntitiesByEmbedding: want Closest first, got %s", results[0].Name)
	}
}

func TestGraph_StatementLifecycle(t *testing.T) {
	store, graph := newTestStore(t)
	ctx := context.Background()
	mustProject(t, ctx, store, "proj-i")
	episode := mustStore(t, ctx, store, memory.StoreParams{Content: "episode", Project: "proj-i"})

	alice, err := graph.CreateEntity(ctx, "Alice", memory.EntityPerson, []float32{1, 0, 0, 0}, "proj-i", nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	stmt1, err := graph.CreateStatement(ctx, "Alice leads the migration", []float32{1, 0, 0, 0}, memory.AspectAction, episode.ID, "proj-i", time.Now())
	if err != nil {
		t.Fatalf("CreateStatement: %v", err)
	}
	if err := graph.CreateTriple(ctx, stmt1, alice, "leads", "", "the migration"); err != nil {
		t.Fatalf("CreateTriple: %v", err)
	}

	episodes, err := graph.FindEntityEpisodes(ctx, alice)
	if err != nil {
		t.Fatalf("FindEntityEpisodes: %v", err)
	}
	if len(episodes) != 1 || episodes[0] != episode.ID {
		t.Errorf("FindEntityEpisodes: want [%d], got %v", episode.ID, episodes)
	}

	statements, err := graph.FindEntityStatements(ctx, alice, nil)
	if err != nil {
		t.Fatalf("FindEntityStatements: %v", err)
	}
	if len(statements) != 1 {
		t.Fatalf("FindEntityStatements: want 1, got %d", len(statements))
	}

	// Contradiction: a newly extracted fact sharing (subject, predicate).
	contradictions, err := graph.FindContradictions(ctx, alice, "leads", "proj-i")
	if err != nil {
		t.Fatalf("FindContradictions: %v", err)
	}
	if len(contradictions) != 1 {
		t.Fatalf("FindContradictions: want 1, got %d", len(contradictions))
	}

	if err := graph.InvalidateStatement(ctx, stmt1, "extraction"); err != nil {
		t.Fatalf("InvalidateStatement: %v", err)
	}
	afterInvalidate, err := graph.FindEntityStatements(ctx, alice, nil)
	if err != nil {
		t.Fatalf("FindEntityStatements after invalidate: %v", err)
	}
	if len(afterInvalidate) != 0 {
		t.Errorf("FindEntityStatements after invalidate: want 0 active, got %d", len(afterInvalidate))
	}

	// Invalidating again is idempotent.
	if err := graph.InvalidateStatement(ctx, stmt1, "extraction"); err != nil {
		t.Errorf("InvalidateStatement idempotent: unexpected error: %v", err)
	}
}

func TestGraph_BFSTraverseAndConnectingStatements(t *testing.T) {
	store, graph := newTestStore(t)
	ctx := context.Background()
	mustProject(t, ctx, store, "proj-j")
	episode := mustStore(t, ctx, store, memory.StoreParams{Content: "episode", Project: "proj-j"})

	alice, _ := graph.CreateEntity(ctx, "Alice", memory.EntityPerson, []float32{1, 0, 0, 0}, "proj-j", nil)
	migration, _ := graph.CreateEntity(ctx, "Migration", memory.EntityProject, []float32{0, 1, 0, 0}, "proj-j", nil)
	v2, _ := graph.CreateEntity(ctx, "v2", memory.EntityConcept, []float32{0, 0, 1, 0}, "proj-j", nil)

	stmt1, _ := graph.CreateStatement(ctx, "Alice leads Migration", []float32{1, 0, 0, 0}, memory.AspectAction, episode.ID, "proj-j", time.Now())
	if err := graph.CreateTriple(ctx, stmt1, alice, "leads", migration, ""); err != nil {
		t.Fatalf("CreateTriple: %v", err)
	}
	stmt2, _ := graph.CreateStatement(ctx, "Migration targets v2", []float32{0, 1, 0, 0}, memory.AspectGoal, episode.ID, "proj-j", time.Now())
	if err := graph.CreateTriple(ctx, stmt2, migration, "targets", v2, ""); err != nil {
		t.Fatalf("CreateTriple: %v", err)
	}

	reachable, err := graph.BFSTraverse(ctx, alice, 2)
	if err != nil {
		t.Fatalf("BFSTraverse: %v", err)
	}
	if len(reachable) != 2 {
		t.Fatalf("BFSTraverse: want 2 reachable statements, got %d", len(reachable))
	}

	connecting, err := graph.FindConnectingStatements(ctx, alice, v2, 0)
	if err != nil {
		t.Fatalf("FindConnectingStatements: %v", err)
	}
	if len(connecting) != 2 {
		t.Errorf("FindConnectingStatements: want 2-hop path of 2 statements, got %d", len(connecting))
	}
}

func TestGraph_SearchStatementsByAspect(t *testing.T) {
	store, graph := newTestStore(t)
	ctx := context.Background()
	mustProject(t, ctx, store, "proj-k2")
	ep1 := mustStore(t, ctx, store, memory.StoreParams{Content: "e1", Project: "proj-k2"})
	ep2 := mustStore(t, ctx, store, memory.StoreParams{Content: "e2", Project: "proj-k2"})

	entity, _ := graph.CreateEntity(ctx, "Entity", memory.EntityConcept, []float32{1, 0, 0, 0}, "proj-k2", nil)
	s1, _ := graph.CreateStatement(ctx, "goal fact", []float32{1, 0, 0, 0}, memory.AspectGoal, ep1.ID, "proj-k2", time.Now())
	_ = graph.CreateTriple(ctx, s1, entity, "has-goal", "", "x")
	s2, _ := graph.CreateStatement(ctx, "belief fact", []float32{1, 0, 0, 0}, memory.AspectBelief, ep2.ID, "proj-k2", time.Now())
	_ = graph.CreateTriple(ctx, s2, entity, "believes", "", "y")

	episodes, err := graph.SearchStatementsByAspect(ctx, []memory.Aspect{memory.AspectGoal}, "proj-k2")
	if err != nil {
		t.Fatalf("SearchStatementsByAspect: %v", err)
	}
	if len(episodes) != 1 || episodes[0] != ep1.ID {
		t.Errorf("SearchStatementsByAspect: want [%d], got %v", ep1.ID, episodes)
	}
}

func TestGraph_Visualization(t *testing.T) {
	store, graph := newTestStore(t)
	ctx := context.Background()
	mustProject(t, ctx, store, "proj-viz")

	if _, err := graph.CreateEntity(ctx, "Only", memory.EntityConcept, []float32{1, 0, 0, 0}, "proj-viz", nil); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	snap, err := graph.Visualization(ctx, "proj-viz", nil, 10)
	if err != nil {
		t.Fatalf("Visualization: %v", err)
	}
	if len(snap.Entities) != 1 {
		t.Errorf("Visualization: want 1 entity, got %d", len(snap.Entities))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func mustStore(t *testing.T, ctx context.Context, store *postgres.Store, params memory.StoreParams) memory.StoreResult {
	t.Helper()
	res, err := store.Store(ctx, params)
	if err != nil {
		t.Fatalf("mustStore: %v", err)
	}
	return res
}

// mustProject ensures a project row exists independent of any memory write,
// for tests that only need graph entities.
func mustProject(t *testing.T, ctx context.Context, store *postgres.Store, project string) {
	t.Helper()
	if _, err := store.Store(ctx, memory.StoreParams{Content: "project bootstrap", Project: project}); err != nil {
		t.Fatalf("mustProject: %v", err)
	}
}
