package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	memorymock "github.com/jasondostal/cairn-mcp-sub001/pkg/memory/mock"
)

func TestResilientGraph_PassesThroughOnSuccess(t *testing.T) {
	inner := &memorymock.GraphProvider{BFSTraverseResult: []memory.Statement{{UUID: "s1"}}}
	g := NewResilientGraph(inner, ResilientGraphConfig{})

	stmts, err := g.BFSTraverse(context.Background(), "entity-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 1 || stmts[0].UUID != "s1" {
		t.Fatalf("stmts = %v, want [{UUID: s1}]", stmts)
	}
	if inner.CallCount("BFSTraverse") != 1 {
		t.Fatalf("inner called %d times, want 1", inner.CallCount("BFSTraverse"))
	}
}

func TestResilientGraph_PropagatesError(t *testing.T) {
	want := errors.New("graph down")
	inner := &memorymock.GraphProvider{FindConnectingStatementsErr: want}
	g := NewResilientGraph(inner, ResilientGraphConfig{})

	_, err := g.FindConnectingStatements(context.Background(), "a", "b", 3)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestResilientGraph_BreakerOpensAfterSustainedFailures(t *testing.T) {
	inner := &memorymock.GraphProvider{CreateTripleErr: errors.New("down")}
	g := NewResilientGraph(inner, ResilientGraphConfig{
		Breaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	for i := 0; i < 2; i++ {
		if err := g.CreateTriple(context.Background(), "s", "subj", "pred", "obj", ""); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	err := g.CreateTriple(context.Background(), "s", "subj", "pred", "obj", "")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCount("CreateTriple") != 2 {
		t.Fatalf("inner called %d times, want 2", inner.CallCount("CreateTriple"))
	}
}

func TestResilientGraph_TimeoutBoundsTheCall(t *testing.T) {
	inner := &blockingGraph{done: make(chan struct{})}
	defer close(inner.done)

	g := NewResilientGraph(inner, ResilientGraphConfig{Timeout: 10 * time.Millisecond})

	_, err := g.FindEntityEpisodes(context.Background(), "entity-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestResilientGraph_ImplementsEveryMethod(t *testing.T) {
	inner := &memorymock.GraphProvider{}
	g := NewResilientGraph(inner, ResilientGraphConfig{})
	ctx := context.Background()

	if _, err := g.CreateEntity(ctx, "n", memory.EntityPerson, nil, "p", nil); err != nil {
		t.Errorf("CreateEntity: %v", err)
	}
	if _, err := g.FindSimilarEntities(ctx, nil, memory.EntityPerson, "p"); err != nil {
		t.Errorf("FindSimilarEntities: %v", err)
	}
	if _, err := g.SearchEntitiesByEmbedding(ctx, nil, "p", 5); err != nil {
		t.Errorf("SearchEntitiesByEmbedding: %v", err)
	}
	if _, err := g.CreateStatement(ctx, "fact", nil, memory.AspectIdentity, 1, "p", time.Time{}); err != nil {
		t.Errorf("CreateStatement: %v", err)
	}
	if err := g.CreateTriple(ctx, "s", "subj", "pred", "obj", ""); err != nil {
		t.Errorf("CreateTriple: %v", err)
	}
	if _, err := g.FindContradictions(ctx, "subj", "pred", "p"); err != nil {
		t.Errorf("FindContradictions: %v", err)
	}
	if err := g.InvalidateStatement(ctx, "uuid", "reason"); err != nil {
		t.Errorf("InvalidateStatement: %v", err)
	}
	if _, err := g.FindEntityStatements(ctx, "uuid", nil); err != nil {
		t.Errorf("FindEntityStatements: %v", err)
	}
	if _, err := g.SearchStatementsByAspect(ctx, nil, "p"); err != nil {
		t.Errorf("SearchStatementsByAspect: %v", err)
	}
	if _, err := g.Visualization(ctx, "p", nil, 10); err != nil {
		t.Errorf("Visualization: %v", err)
	}
}

// blockingGraph blocks FindEntityEpisodes until its ctx is cancelled.
type blockingGraph struct {
	memorymock.GraphProvider
	done chan struct{}
}

func (b *blockingGraph) FindEntityEpisodes(ctx context.Context, entityUUID string) ([]int64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, errors.New("unblocked without ctx cancellation")
	}
}
